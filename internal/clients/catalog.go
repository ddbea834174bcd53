package clients

import (
	"context"
	"net/url"
	"time"

	"order-fulfillment/internal/apperr"
	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"
)

// CatalogClient looks products up in the external product catalog
type CatalogClient struct {
	http *httpClient
}

// NewCatalogClient creates a client for the product catalog at baseURL
func NewCatalogClient(baseURL string, timeout time.Duration) *CatalogClient {
	return &CatalogClient{http: newHTTPClient(baseURL, "catalog", timeout)}
}

// GetProduct fetches one product. Unknown products are NotFound, outages are
// Unavailable and anything else is product_fetch_error.
func (c *CatalogClient) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogClient.GetProduct")
	defer span.End()

	var product models.Product
	err := c.http.do(ctx, "GET", "/api/products/"+url.PathEscape(productID), nil, &product)
	if err == nil {
		if product.ID == "" {
			product.ID = productID
		}
		return &product, nil
	}

	util.RecordError(span, err)
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return nil, apperr.NotFound(apperr.CodeProductNotFound, "product %s not found", productID)
	case apperr.KindUnavailable:
		return nil, err
	default:
		return nil, apperr.Wrap(err, apperr.KindUpstream, apperr.CodeProductFetchError,
			"failed to fetch product %s", productID)
	}
}
