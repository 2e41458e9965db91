// Package ingest turns uploaded CSV files into validated invoices.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	money "github.com/rezonia/vat-compliance/internal/decimal"
	"github.com/rezonia/vat-compliance/internal/model"
)

// validate is shared; validator caches struct metadata per instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("csv"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = validate.RegisterValidation("money", validateMoney)
	_ = validate.RegisterValidation("percent", validatePercent)
}

// validateMoney accepts non-negative decimals with at most 4 fraction digits
func validateMoney(fl validator.FieldLevel) bool {
	d, err := money.FromString(fl.Field().String())
	if err != nil {
		return false
	}
	return money.IsNonNegative(d) && d.Exponent() >= -4
}

// validatePercent accepts decimals in [0, 100]
func validatePercent(fl validator.FieldLevel) bool {
	d, err := money.FromString(fl.Field().String())
	if err != nil {
		return false
	}
	return money.IsNonNegative(d) && d.LessThanOrEqual(money.FromInt(100))
}

// Row is one CSV record before conversion
type Row struct {
	ID              string `csv:"id" validate:"required,max=64"`
	CompanyID       string `csv:"company_id" validate:"required,max=64"`
	Number          string `csv:"number" validate:"max=64"`
	Date            string `csv:"date" validate:"omitempty,datetime=2006-01-02"`
	NetAmount       string `csv:"net_amount" validate:"required,money"`
	VATRate         string `csv:"vat_rate" validate:"required,percent"`
	VATAmount       string `csv:"vat_amount" validate:"required,money"`
	SupplierCountry string `csv:"supplier_country" validate:"required,iso3166_1_alpha2"`
	CustomerCountry string `csv:"customer_country" validate:"required,iso3166_1_alpha2"`
	CustomerVATID   string `csv:"customer_vat_id" validate:"omitempty,alphanum,min=4,max=16"`
	CustomerType    string `csv:"customer_type" validate:"required,oneof=business consumer"`
	ProductType     string `csv:"product_type" validate:"required,oneof=goods services digital"`
	Description     string `csv:"description" validate:"max=500"`
}

var requiredColumns = []string{
	"id", "company_id", "net_amount", "vat_rate", "vat_amount",
	"supplier_country", "customer_country", "customer_type", "product_type",
}

// Result holds the invoices that passed validation and the row errors of
// those that did not. Row numbers are 1-based and count the header.
type Result struct {
	Invoices []model.Invoice
	Errors   []*model.InvoiceValidationError
	Rows     int
}

// ReadCSV parses r. Malformed rows are reported in Result.Errors and
// skipped; a missing header column fails the whole file.
func ReadCSV(r io.Reader, uploadID string, now time.Time) (*Result, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, model.NewInvoiceValidationError(0, "header", "", "empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := columns[c]; !ok {
			return nil, model.NewInvoiceValidationError(1, c, "", "missing required column")
		}
	}

	res := &Result{}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return nil, fmt.Errorf("read csv: %w", err)
			}
			res.Errors = append(res.Errors, model.NewInvoiceValidationError(pe.StartLine, "", nil, pe.Err.Error()))
			continue
		}
		// encoding/csv skips empty lines, so the counter is taken from the reader
		line, _ := cr.FieldPos(0)
		if isBlank(record) {
			continue
		}
		res.Rows++

		row := rowFrom(record, columns)
		inv, verr := row.toInvoice(line, uploadID, now)
		if verr != nil {
			res.Errors = append(res.Errors, verr)
			continue
		}
		res.Invoices = append(res.Invoices, *inv)
	}

	return res, nil
}

func rowFrom(record []string, columns map[string]int) Row {
	get := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	return Row{
		ID:              get("id"),
		CompanyID:       get("company_id"),
		Number:          get("number"),
		Date:            get("date"),
		NetAmount:       get("net_amount"),
		VATRate:         strings.TrimSuffix(get("vat_rate"), "%"),
		VATAmount:       get("vat_amount"),
		SupplierCountry: strings.ToUpper(get("supplier_country")),
		CustomerCountry: strings.ToUpper(get("customer_country")),
		CustomerVATID:   strings.ToUpper(strings.ReplaceAll(get("customer_vat_id"), " ", "")),
		CustomerType:    strings.ToLower(get("customer_type")),
		ProductType:     strings.ToLower(get("product_type")),
		Description:     get("description"),
	}
}

// toInvoice validates the row and converts it. Only the first violation is reported.
func (r Row) toInvoice(line int, uploadID string, now time.Time) (*model.Invoice, *model.InvoiceValidationError) {
	if err := validate.Struct(r); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			return nil, model.NewInvoiceValidationError(line, fe.Field(), fe.Value(), describe(fe))
		}
		return nil, model.NewInvoiceValidationError(line, "", "", err.Error())
	}

	inv := &model.Invoice{
		ID:              r.ID,
		UploadID:        uploadID,
		CompanyID:       r.CompanyID,
		Number:          r.Number,
		NetAmount:       money.MustFromString(r.NetAmount),
		VATRate:         money.MustFromString(r.VATRate),
		VATAmount:       money.MustFromString(r.VATAmount),
		SupplierCountry: r.SupplierCountry,
		CustomerCountry: r.CustomerCountry,
		CustomerVATID:   r.CustomerVATID,
		CustomerType:    model.CustomerType(r.CustomerType),
		ProductType:     model.ProductType(r.ProductType),
		Description:     r.Description,
		Status:          model.InvoiceStatusPending,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
	if r.Date != "" {
		d, _ := time.Parse("2006-01-02", r.Date)
		inv.Date = d
	}
	return inv, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "money":
		return "must be a non-negative amount with at most 4 decimals"
	case "percent":
		return "must be a percentage between 0 and 100"
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	case "iso3166_1_alpha2":
		return "must be an ISO 3166-1 alpha-2 country code"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "alphanum":
		return "must contain letters and digits only"
	case "max", "min":
		return fmt.Sprintf("length must satisfy %s=%s", fe.Tag(), fe.Param())
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
