package distribution

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/99souls/synopticon/engine/models"
)

type httpDistributor struct {
	statsTracker
	baseURL string
	path    string
	client  *http.Client
}

func newHTTPDistributor(dest models.DistributorDestination) *httpDistributor {
	return &httpDistributor{
		baseURL: dest.URL,
		path:    dest.Path,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *httpDistributor) Kind() models.DistributorKind { return models.DistributorHTTP }

func (d *httpDistributor) Open(ctx context.Context) error { return nil }

func (d *httpDistributor) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

func (d *httpDistributor) Send(ctx context.Context, payload []byte, opts SendOptions) (SendResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+d.path, bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, models.NewValidationError("distribution.httpDistributor.Send", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.recordError()
		return SendResult{}, models.NewTransportError("distribution.httpDistributor.Send", "post failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		d.recordError()
		return SendResult{}, models.NewTransportError("distribution.httpDistributor.Send", fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	d.recordSend(len(payload))
	return SendResult{BytesSent: len(payload), ClientsReached: 1}, nil
}
