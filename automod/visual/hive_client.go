package visual

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/bluesky-social/mediamod/util"

	"github.com/carlmjohnson/versioninfo"
)

const DefaultHiveEndpoint = "https://api.thehive.ai/api/v2/task/sync"

type HiveClient struct {
	Client   *http.Client
	ApiToken string
	// defaults to DefaultHiveEndpoint
	Endpoint string
}

func NewHiveClient(token string) *HiveClient {
	return &HiveClient{
		Client:   util.RobustHTTPClient(),
		ApiToken: token,
		Endpoint: DefaultHiveEndpoint,
	}
}

// Uploads media bytes for synchronous classification.
func (hc *HiveClient) Classify(ctx context.Context, filename string, data []byte) (*HiveResp, error) {

	slog.Debug("sending media to Hive", "filename", filename, "size", len(data))

	// generic HTTP form file upload, then parse the response JSON
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("media", filename)
	if err != nil {
		return nil, err
	}
	if _, err = part.Write(data); err != nil {
		return nil, err
	}
	if err = writer.Close(); err != nil {
		return nil, err
	}

	endpoint := hc.Endpoint
	if endpoint == "" {
		endpoint = DefaultHiveEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, body)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		hiveAPIDuration.Observe(time.Since(start).Seconds())
	}()

	req.Header.Set("Authorization", fmt.Sprintf("Token %s", hc.ApiToken))
	req.Header.Add("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "mediamod-sieve/"+versioninfo.Short())

	client := hc.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hive request failed: %w", err)
	}
	defer res.Body.Close()

	hiveAPICount.WithLabelValues(fmt.Sprint(res.StatusCode)).Inc()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hive request failed statusCode=%d", res.StatusCode)
	}

	respBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read hive resp body: %w", err)
	}

	var respObj HiveResp
	if err := json.Unmarshal(respBytes, &respObj); err != nil {
		return nil, fmt.Errorf("failed to parse hive resp JSON: %w", err)
	}
	return &respObj, nil
}
