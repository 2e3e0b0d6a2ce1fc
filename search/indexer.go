// Maintains the media search index in OpenSearch: scanned media is upserted with its moderation tags, blocked media is removed.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/bluesky-social/mediamod/models"

	es "github.com/opensearch-project/opensearch-go/v2"
	esapi "github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("search")

type Indexer struct {
	escli      *es.Client
	mediaIndex string
	logger     *slog.Logger
}

type Config struct {
	// comma-separated
	Hosts    string
	Username string
	Password string
	CertFile string
	Index    string
}

func NewClient(cfg Config) (*es.Client, error) {
	addrs := []string{}
	if cfg.Hosts != "" {
		addrs = strings.Split(cfg.Hosts, ",")
	}

	var cert []byte
	if cfg.CertFile != "" {
		b, err := os.ReadFile(cfg.CertFile)
		if err != nil {
			return nil, err
		}
		cert = b
	}

	escli, err := es.NewClient(es.Config{
		Addresses: addrs,
		Username:  cfg.Username,
		Password:  cfg.Password,
		CACert:    cert,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up client: %w", err)
	}
	return escli, nil
}

func NewIndexer(escli *es.Client, index string, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		escli:      escli,
		mediaIndex: index,
		logger:     logger.With("system", "search"),
	}
}

const mediaMapping = `{
  "mappings": {
    "properties": {
      "doc_index_ts":    {"type": "date"},
      "media_id":        {"type": "long"},
      "user_id":         {"type": "long"},
      "nsfw_level":      {"type": "integer"},
      "nsfw_rating":     {"type": "keyword"},
      "tag":             {"type": "keyword"},
      "prompt":          {"type": "text"},
      "generation_tool": {"type": "keyword"},
      "emoji":           {"type": "keyword"},
      "resource_id":     {"type": "long"},
      "scanned_at":      {"type": "date"},
      "needs_review":    {"type": "boolean"}
    }
  }
}`

// Creates the media index with its mapping, if it doesn't already exist.
func (idx *Indexer) EnsureIndex(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{idx.mediaIndex}}.Do(ctx, idx.escli)
	if err != nil {
		return fmt.Errorf("checking index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	idx.logger.Info("creating media index", "index", idx.mediaIndex)
	res, err = esapi.IndicesCreateRequest{
		Index: idx.mediaIndex,
		Body:  strings.NewReader(mediaMapping),
	}.Do(ctx, idx.escli)
	if err != nil {
		return fmt.Errorf("creating index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("creating index, code=%d: %s", res.StatusCode, string(body))
	}
	return nil
}

func (idx *Indexer) UpsertMedia(ctx context.Context, m *models.MediaItem, tags []string) error {
	ctx, span := tracer.Start(ctx, "UpsertMedia")
	defer span.End()
	span.SetAttributes(attribute.Int64("media", m.ID))

	log := idx.logger.With("media", m.ID, "op", "upsertMedia")
	doc := TransformMedia(m, tags)
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	log.Debug("indexing media")
	req := esapi.IndexRequest{
		Index:      idx.mediaIndex,
		DocumentID: doc.DocId(),
		Body:       bytes.NewReader(b),
	}
	res, err := req.Do(ctx, idx.escli)
	if err != nil {
		mediaFailed.WithLabelValues("upsert").Inc()
		return fmt.Errorf("failed to send indexing request: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read indexing response: %w", err)
	}
	if res.IsError() {
		mediaFailed.WithLabelValues("upsert").Inc()
		log.Warn("opensearch indexing error", "status_code", res.StatusCode, "body", string(body))
		return fmt.Errorf("indexing error, code=%d", res.StatusCode)
	}
	mediaIndexed.Inc()
	return nil
}

// Removes a media document. Deleting a document which isn't indexed is not an error.
func (idx *Indexer) DeleteMedia(ctx context.Context, mediaID int64) error {
	ctx, span := tracer.Start(ctx, "DeleteMedia")
	defer span.End()
	span.SetAttributes(attribute.Int64("media", mediaID))

	log := idx.logger.With("media", mediaID, "op", "deleteMedia")
	log.Info("deleting media from index")
	req := esapi.DeleteRequest{
		Index:      idx.mediaIndex,
		DocumentID: strconv.FormatInt(mediaID, 10),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, idx.escli)
	if err != nil {
		mediaFailed.WithLabelValues("delete").Inc()
		return fmt.Errorf("failed to delete media: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read indexing response: %w", err)
	}
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		mediaFailed.WithLabelValues("delete").Inc()
		log.Warn("opensearch indexing error", "status_code", res.StatusCode, "body", string(body))
		return fmt.Errorf("indexing error, code=%d", res.StatusCode)
	}
	mediaDeleted.Inc()
	return nil
}
