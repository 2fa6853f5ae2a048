// Package model defines the records flowing through the crawl pipeline.
package model

// Category is a node in the site's catalog taxonomy discovered from a
// root category page. Categories are constructed per run and never persisted.
type Category struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ProductLink points at a single product page, discovered from a listing
// page. Category is the title of the subcategory the link was found under,
// carried so per-link failures can be traced back to their source.
type ProductLink struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Category string `json:"category,omitempty"`
}

// PriceInfo is one row of an offer's quantity-tiered price table.
// A row whose price cannot be parsed as a non-negative number is dropped
// by the extractor rather than recorded with a placeholder zero.
type PriceInfo struct {
	Quantity int      `json:"qnt"`
	Discount *float64 `json:"discount"`
	Price    float64  `json:"price"`
}

// SupplierOffer is a single purchasable offer listed by a supplier.
type SupplierOffer struct {
	PriceTiers   []PriceInfo `json:"price"`
	Stock        string      `json:"stock,omitempty"`
	DeliveryTime string      `json:"delivery_time,omitempty"`
	PackageInfo  string      `json:"package_info,omitempty"`
	PurchaseURL  string      `json:"purchase_url,omitempty"`
}

// Supplier is a dealer selling the product, with its contact details and offers.
type Supplier struct {
	DealerID    string          `json:"dealer_id,omitempty"`
	Name        string          `json:"supplier_name,omitempty"`
	Phone       string          `json:"supplier_tel,omitempty"`
	Address     string          `json:"supplier_address,omitempty"`
	Description string          `json:"supplier_description,omitempty"`
	Offers      []SupplierOffer `json:"supplier_offers"`
}

// Attribute is a free-form name/value pair scraped from a spec table.
// Names are not guaranteed unique within a product.
type Attribute struct {
	Name  string `json:"attr_name"`
	Value string `json:"attr_value"`
}

// Product is the only entity with a persistence lifecycle. Every scalar
// field is optional: extraction is best-effort and absence is not an error.
// URL is the identity key used for document-store upserts.
type Product struct {
	URL             string      `json:"url"`
	Title           string      `json:"title,omitempty"`
	Description     string      `json:"description,omitempty"`
	Article         string      `json:"article,omitempty"`
	Brand           string      `json:"brand,omitempty"`
	CountryOfOrigin string      `json:"country_of_origin,omitempty"`
	WarrantyMonths  string      `json:"warranty_months,omitempty"`
	Category        string      `json:"category,omitempty"`
	CreatedAt       string      `json:"created_at,omitempty"`
	Attributes      []Attribute `json:"attributes"`
	Suppliers       []Supplier  `json:"suppliers"`
}
