// Package portal is an HTTP client for the tax portal's JSON API. It supplies
// the leaf operations of the liabilities and receipts workflows, routing each
// call through the resource queue for its kind of work.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/siphomateke/zra-helper-sub001/internal/config"
	"github.com/siphomateke/zra-helper-sub001/internal/queue"
	"github.com/siphomateke/zra-helper-sub001/internal/workflow/liabilities"
)

// ErrInvalidReceiptID is returned for receipt ids that cannot name a file.
var ErrInvalidReceiptID = errors.New("invalid receipt id")

// StatusError is returned for responses with a non-2xx status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Client talks to the portal. History pages go through the tabs queue,
// liability lookups through the requests queue and receipt files through the
// downloads queue.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	queues  *queue.Set
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a client for the portal described by cfg.
func New(cfg config.PortalConfig, queues *queue.Set, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid portal base url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{},
		queues:  queues,
		timeout: cfg.RequestTimeout,
		logger:  logger.With("component", "portal_client"),
	}, nil
}

type historyResponse struct {
	NumPages int `json:"num_pages"`
	Returns  []struct {
		ID string `json:"id"`
	} `json:"returns"`
}

// ReturnHistory implements liabilities.Source.
func (c *Client) ReturnHistory(ctx context.Context, taxType liabilities.TaxType, from, to string, page int) (liabilities.HistoryPage, error) {
	query := url.Values{}
	query.Set("from", from)
	query.Set("to", to)
	query.Set("page", strconv.Itoa(page))

	var resp historyResponse
	err := c.queues.Tabs.Add(ctx, func(ctx context.Context) error {
		return c.getJSON(ctx, c.endpoint(query, "returns", string(taxType)), &resp)
	})
	if err != nil {
		return liabilities.HistoryPage{}, err
	}

	result := liabilities.HistoryPage{NumPages: resp.NumPages}
	for _, r := range resp.Returns {
		result.ReturnIDs = append(result.ReturnIDs, r.ID)
	}
	return result, nil
}

type liabilityResponse struct {
	Period    string  `json:"period"`
	Principal float64 `json:"principal"`
	Interest  float64 `json:"interest"`
	Penalty   float64 `json:"penalty"`
}

// Liability implements liabilities.Source.
func (c *Client) Liability(ctx context.Context, taxType liabilities.TaxType, returnID string) (liabilities.Liability, error) {
	resp, err := queue.Do(ctx, c.queues.Requests, func(ctx context.Context) (liabilityResponse, error) {
		var resp liabilityResponse
		err := c.getJSON(ctx, c.endpoint(nil, "liabilities", string(taxType), returnID), &resp)
		return resp, err
	})
	if err != nil {
		return liabilities.Liability{}, err
	}
	return liabilities.Liability{
		ReturnID:  returnID,
		Period:    resp.Period,
		Principal: resp.Principal,
		Interest:  resp.Interest,
		Penalty:   resp.Penalty,
	}, nil
}

// DownloadReceipt implements receipts.Downloader. The receipt is written to
// dir/receipt-<id>.pdf, replacing any earlier download. Ids containing a path
// separator are rejected before anything touches the filesystem.
func (c *Client) DownloadReceipt(ctx context.Context, receiptID, dir string) (string, error) {
	if receiptID == "" || strings.ContainsAny(receiptID, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidReceiptID, receiptID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	path := filepath.Join(dir, "receipt-"+receiptID+".pdf")

	err := c.queues.Downloads.Add(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.do(ctx, c.endpoint(nil, "receipts", receiptID, "pdf"))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return writeFile(path, resp.Body)
	})
	if err != nil {
		return "", err
	}
	c.logger.Debug("receipt downloaded", "receipt_id", receiptID, "path", path)
	return path, nil
}

// writeFile streams r into path through a temporary file so that a failed
// download never leaves a partial receipt behind.
func writeFile(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".receipt-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write receipt: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write receipt: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to save receipt: %w", err)
	}
	return nil
}

func (c *Client) endpoint(query url.Values, segments ...string) string {
	u := c.baseURL.JoinPath(append([]string{"api", "taxpayer"}, segments...)...)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// getJSON issues a GET bounded by the client timeout and decodes the body.
func (c *Client) getJSON(ctx context.Context, endpoint string, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return nil
}

// do issues a GET and turns non-2xx responses into a *StatusError.
func (c *Client) do(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	c.logger.Debug("portal request",
		"url", endpoint,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{
			Method:     http.MethodGet,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}
	return resp, nil
}
