// Package shopify is a catalog.Source and catalog.Updater backed by the
// Shopify Admin GraphQL API.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/JonMunkholm/pricesync/internal/catalog"
	"github.com/JonMunkholm/pricesync/internal/money"
)

const (
	DefaultAPIVersion = "2024-10"
	DefaultPageSize   = 100
	maxPageSize       = 250
)

// ErrUserErrors is wrapped when a mutation reports userErrors.
var ErrUserErrors = errors.New("shopify rejected mutation")

// Config holds connection settings for one shop.
type Config struct {
	ShopDomain  string
	AccessToken string
	APIVersion  string
	// LocationID is required for stock updates.
	LocationID string
	PageSize   int
	// RequestsPerSecond of 0 disables client-side limiting.
	RequestsPerSecond float64
	Timeout           time.Duration
	// Endpoint overrides the URL derived from ShopDomain.
	Endpoint string
}

// Client talks to one shop. Safe for concurrent use.
type Client struct {
	endpoint   string
	token      string
	locationID string
	pageSize   int
	http       *http.Client
	limiter    *rate.Limiter
}

// New validates cfg and builds a client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("shopify access token is empty")
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		domain := strings.TrimSpace(cfg.ShopDomain)
		if domain == "" {
			return nil, errors.New("shopify shop domain is empty")
		}
		version := cfg.APIVersion
		if version == "" {
			version = DefaultAPIVersion
		}
		endpoint = fmt.Sprintf("https://%s/admin/api/%s/graphql.json", domain, version)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		endpoint:   endpoint,
		token:      cfg.AccessToken,
		locationID: cfg.LocationID,
		pageSize:   pageSize,
		http:       &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
	}, nil
}

type gqlReq struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResp struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

type userError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

func userErrorsErr(errs []userError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		if len(e.Field) > 0 {
			msgs[i] = strings.Join(e.Field, ".") + ": " + e.Message
		} else {
			msgs[i] = e.Message
		}
	}
	return fmt.Errorf("%w: %s", ErrUserErrors, strings.Join(msgs, "; "))
}

// do posts one GraphQL document and decodes data into out.
func (c *Client) do(ctx context.Context, query string, vars map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(gqlReq{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-Shopify-Access-Token", c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("shopify api error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed gqlResp
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		msgs := make([]string, len(parsed.Errors))
		for i, e := range parsed.Errors {
			msgs[i] = e.Message
		}
		return fmt.Errorf("shopify graphql error: %s", strings.Join(msgs, "; "))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(parsed.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

const variantsQuery = `query Variants($first: Int!, $after: String) {
  productVariants(first: $first, after: $after) {
    nodes {
      id
      sku
      displayName
      price
      barcode
      inventoryQuantity
      inventoryItem { id }
      product { id status }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

type variantNode struct {
	ID                string  `json:"id"`
	SKU               *string `json:"sku"`
	DisplayName       string  `json:"displayName"`
	Price             string  `json:"price"`
	Barcode           *string `json:"barcode"`
	InventoryQuantity *int    `json:"inventoryQuantity"`
	InventoryItem     *struct {
		ID string `json:"id"`
	} `json:"inventoryItem"`
	Product *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"product"`
}

type variantsPage struct {
	ProductVariants struct {
		Nodes    []variantNode `json:"nodes"`
		PageInfo struct {
			HasNextPage bool    `json:"hasNextPage"`
			EndCursor   *string `json:"endCursor"`
		} `json:"pageInfo"`
	} `json:"productVariants"`
}

func (n variantNode) raw() catalog.RawNode {
	out := catalog.RawNode{
		ID:                n.ID,
		SKU:               n.SKU,
		DisplayName:       n.DisplayName,
		Price:             n.Price,
		Barcode:           n.Barcode,
		InventoryQuantity: n.InventoryQuantity,
	}
	if n.InventoryItem != nil {
		out.InventoryItemID = n.InventoryItem.ID
	}
	if n.Product != nil {
		out.ProductID = n.Product.ID
		out.ProductStatus = n.Product.Status
	}
	return out
}

// Pages walks every product variant with cursor pagination.
func (c *Client) Pages(ctx context.Context, fn func([]catalog.RawNode) error) error {
	var cursor *string
	for page := 1; ; page++ {
		vars := map[string]any{"first": c.pageSize}
		if cursor != nil {
			vars["after"] = *cursor
		}

		var data variantsPage
		if err := c.do(ctx, variantsQuery, vars, &data); err != nil {
			return fmt.Errorf("fetch page %d: %w", page, err)
		}

		nodes := make([]catalog.RawNode, len(data.ProductVariants.Nodes))
		for i, n := range data.ProductVariants.Nodes {
			nodes[i] = n.raw()
		}
		if err := fn(nodes); err != nil {
			return err
		}

		info := data.ProductVariants.PageInfo
		if !info.HasNextPage || info.EndCursor == nil {
			return nil
		}
		cursor = info.EndCursor
	}
}

const priceMutation = `mutation SetPrice($productId: ID!, $variants: [ProductVariantsBulkInput!]!) {
  productVariantsBulkUpdate(productId: $productId, variants: $variants) {
    userErrors { field message }
  }
}`

const stockMutation = `mutation SetStock($input: InventorySetQuantitiesInput!) {
  inventorySetQuantities(input: $input) {
    userErrors { field message }
  }
}`

// Update applies the price and stock parts of cmd. Stock is sent as a whole
// number; the fractional part is dropped.
func (c *Client) Update(ctx context.Context, cmd catalog.UpdateCommand) error {
	if cmd.Price != nil {
		if err := c.setPrice(ctx, cmd); err != nil {
			return fmt.Errorf("update price for %s: %w", cmd.SKU, err)
		}
	}
	if cmd.Stock != nil {
		if err := c.setStock(ctx, cmd); err != nil {
			return fmt.Errorf("update stock for %s: %w", cmd.SKU, err)
		}
	}
	return nil
}

func (c *Client) setPrice(ctx context.Context, cmd catalog.UpdateCommand) error {
	vars := map[string]any{
		"productId": cmd.ProductID,
		"variants": []map[string]any{
			{"id": cmd.ListingID, "price": money.FormatCents(*cmd.Price)},
		},
	}

	var data struct {
		Result struct {
			UserErrors []userError `json:"userErrors"`
		} `json:"productVariantsBulkUpdate"`
	}
	if err := c.do(ctx, priceMutation, vars, &data); err != nil {
		return err
	}
	return userErrorsErr(data.Result.UserErrors)
}

func (c *Client) setStock(ctx context.Context, cmd catalog.UpdateCommand) error {
	if c.locationID == "" {
		return errors.New("no location configured for stock updates")
	}
	if cmd.InventoryItemID == "" {
		return errors.New("listing has no inventory item")
	}

	vars := map[string]any{
		"input": map[string]any{
			"name":                  "available",
			"reason":                "correction",
			"ignoreCompareQuantity": true,
			"quantities": []map[string]any{{
				"inventoryItemId": cmd.InventoryItemID,
				"locationId":      c.locationID,
				"quantity":        int(math.Trunc(*cmd.Stock)),
			}},
		},
	}

	var data struct {
		Result struct {
			UserErrors []userError `json:"userErrors"`
		} `json:"inventorySetQuantities"`
	}
	if err := c.do(ctx, stockMutation, vars, &data); err != nil {
		return err
	}
	return userErrorsErr(data.Result.UserErrors)
}
