package profile

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client talks to the external profile service that owns player and
// coach records.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{httpClient: httpClient, baseURL: baseURL}
}

// Publish marks the referenced player profile as publicly listed.
func (c *Client) Publish(ctx context.Context, profileRef string) error {
	return c.post(ctx, fmt.Sprintf("%s/profiles/%s/publish", c.baseURL, profileRef))
}

// UnlockContacts makes hidden contact fields visible to the buyer.
func (c *Client) UnlockContacts(ctx context.Context, buyerID uuid.UUID) error {
	return c.post(ctx, fmt.Sprintf("%s/buyers/%s/contacts-unlock", c.baseURL, buyerID))
}

func (c *Client) post(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("profile service: unexpected status %s", resp.Status)
	}
	return nil
}
