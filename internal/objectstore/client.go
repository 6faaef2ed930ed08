package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Uploader hands completed recording media to the object-store collaborator.
type Uploader interface {
	// Finalize commits an uploaded media blob for the recording and returns
	// the durable storage reference.
	Finalize(ctx context.Context, recordingID, blobRef string) (string, error)
}

// Client implements Uploader against the object-store service HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewClient creates an object-store client.
func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type finalizeRequest struct {
	BlobRef string `json:"blob_ref"`
}

type finalizeResponse struct {
	StorageRef string `json:"storage_ref"`
	Error      string `json:"error,omitempty"`
}

// Finalize POSTs the blob reference to the object store and returns the
// storage reference it assigns. Errors are terminal for the recording; the
// caller decides whether to surface a failed status.
func (c *Client) Finalize(ctx context.Context, recordingID, blobRef string) (string, error) {
	url := fmt.Sprintf("%s/recordings/%s/finalize", c.baseURL, recordingID)
	body, _ := json.Marshal(finalizeRequest{BlobRef: blobRef})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("objectstore: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("objectstore: finalize: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("objectstore: finalize: unexpected status %d", res.StatusCode)
	}
	var out finalizeResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("objectstore: decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("objectstore: %s", out.Error)
	}
	if out.StorageRef == "" {
		return "", fmt.Errorf("objectstore: empty storage ref")
	}
	c.log.Info("recording finalized in object store",
		zap.String("recording_id", recordingID),
		zap.String("storage_ref", out.StorageRef))
	return out.StorageRef, nil
}
