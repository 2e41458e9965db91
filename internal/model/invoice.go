package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle state of an invoice
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusValid   InvoiceStatus = "valid"
	InvoiceStatusError   InvoiceStatus = "error"
	InvoiceStatusFixed   InvoiceStatus = "fixed"
)

// ProductType classifies what was sold; rate sets differ per type
type ProductType string

const (
	ProductGoods    ProductType = "goods"
	ProductServices ProductType = "services"
	ProductDigital  ProductType = "digital"
)

// CustomerType distinguishes B2B from B2C sales
type CustomerType string

const (
	CustomerBusiness CustomerType = "business"
	CustomerConsumer CustomerType = "consumer"
)

// Invoice is a validated sales invoice as produced by the upload pipeline.
// Only the remediation engine changes NetAmount, VATRate and VATAmount after creation.
type Invoice struct {
	ID              string          `json:"id"`
	UploadID        string          `json:"upload_id"`
	CompanyID       string          `json:"company_id"`
	Number          string          `json:"number,omitempty"`
	Date            time.Time       `json:"date,omitempty"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	VATRate         decimal.Decimal `json:"vat_rate_percent"`
	VATAmount       decimal.Decimal `json:"vat_amount"`
	SupplierCountry string          `json:"supplier_country"`
	CustomerCountry string          `json:"customer_country"`
	CustomerVATID   string          `json:"customer_vat_id,omitempty"`
	CustomerType    CustomerType    `json:"customer_type"`
	ProductType     ProductType     `json:"product_type"`
	Description     string          `json:"description,omitempty"`
	Status          InvoiceStatus   `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Amounts returns the correctable numeric fields of the invoice
func (i *Invoice) Amounts() Amounts {
	return Amounts{
		NetAmount: i.NetAmount,
		VATRate:   i.VATRate,
		VATAmount: i.VATAmount,
	}
}

// ApplyAmounts overwrites the correctable numeric fields
func (i *Invoice) ApplyAmounts(a Amounts) {
	i.NetAmount = a.NetAmount
	i.VATRate = a.VATRate
	i.VATAmount = a.VATAmount
}

// IsBusinessCustomer reports whether the sale is B2B
func (i *Invoice) IsBusinessCustomer() bool {
	return i.CustomerType == CustomerBusiness
}

// HasDate reports whether an invoice date was supplied
func (i *Invoice) HasDate() bool {
	return !i.Date.IsZero()
}

// Amounts is a snapshot of the fields a fix may change
type Amounts struct {
	NetAmount decimal.Decimal `json:"net_amount"`
	VATRate   decimal.Decimal `json:"vat_rate_percent"`
	VATAmount decimal.Decimal `json:"vat_amount"`
}

// Equal compares two snapshots numerically
func (a Amounts) Equal(b Amounts) bool {
	return a.NetAmount.Equal(b.NetAmount) &&
		a.VATRate.Equal(b.VATRate) &&
		a.VATAmount.Equal(b.VATAmount)
}
