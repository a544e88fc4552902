package bridge

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/shopsync/internal/task"
)

const (
	exportPrefix       = "IMPORT_ORDER_"
	exportExt          = ".csv"
	confirmationPrefix = "BILLED_"
	confirmationExt    = ".txt"

	// ProcessedSuffix is appended to a confirmation artifact once consumed.
	ProcessedSuffix = ".processed"
)

// ExportHeader is the header row of every export artifact.
var ExportHeader = []string{"order_ref", "product", "size", "price", "qty"}

var (
	// ErrInvalidOrderNumber is returned for order numbers that cannot be
	// used safely inside a file name.
	ErrInvalidOrderNumber = errors.New("invalid order number")

	// ErrEmptyInvoice is returned when a confirmation artifact holds no
	// invoice number.
	ErrEmptyInvoice = errors.New("confirmation artifact has no invoice number")

	// ErrNotConsumed is returned when a confirmation was committed but the
	// artifact could not be renamed out of the watched directory.
	ErrNotConsumed = errors.New("confirmation artifact not consumed")

	// ErrMalformedExport is returned when an export artifact does not follow
	// the CSV layout.
	ErrMalformedExport = errors.New("malformed export artifact")
)

// OrderExport instructs the terminal to bill one order.
type OrderExport struct {
	OrderNumber string
	Lines       []ExportLine
}

// ExportLine is one CSV row of an export artifact.
type ExportLine struct {
	OrderRef string
	Product  string
	Size     string
	Price    float64
	Qty      int
}

// BillingConfirmation signals that the terminal billed an order.
type BillingConfirmation struct {
	OrderNumber   string
	InvoiceNumber string
}

// ValidateOrderNumber rejects order numbers that would escape the shared
// directory or collide with hidden temp files.
func ValidateOrderNumber(orderNumber string) error {
	switch {
	case orderNumber == "":
		return fmt.Errorf("%w: empty", ErrInvalidOrderNumber)
	case strings.ContainsAny(orderNumber, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidOrderNumber, orderNumber)
	case strings.Contains(orderNumber, ".."):
		return fmt.Errorf("%w: %q contains '..'", ErrInvalidOrderNumber, orderNumber)
	case strings.HasPrefix(orderNumber, "."):
		return fmt.Errorf("%w: %q starts with '.'", ErrInvalidOrderNumber, orderNumber)
	}
	return nil
}

// ExportFileName returns IMPORT_ORDER_<orderNumber>.csv.
func ExportFileName(orderNumber string) string {
	return exportPrefix + orderNumber + exportExt
}

// ExportFilePattern matches every export artifact.
const ExportFilePattern = exportPrefix + "*" + exportExt

// ParseExportFileName extracts the order number from an export artifact name.
func ParseExportFileName(name string) (string, bool) {
	if !strings.HasPrefix(name, exportPrefix) || !strings.HasSuffix(name, exportExt) {
		return "", false
	}
	orderNumber := strings.TrimSuffix(strings.TrimPrefix(name, exportPrefix), exportExt)
	if ValidateOrderNumber(orderNumber) != nil {
		return "", false
	}
	return orderNumber, true
}

// ConfirmationFileName returns BILLED_<orderNumber>.txt.
func ConfirmationFileName(orderNumber string) string {
	return confirmationPrefix + orderNumber + confirmationExt
}

// ConfirmationFilePattern matches every unconsumed confirmation artifact.
const ConfirmationFilePattern = confirmationPrefix + "*" + confirmationExt

// ParseConfirmationFileName extracts the order number from a confirmation
// artifact name.
func ParseConfirmationFileName(name string) (string, bool) {
	if !strings.HasPrefix(name, confirmationPrefix) || !strings.HasSuffix(name, confirmationExt) {
		return "", false
	}
	orderNumber := strings.TrimSuffix(strings.TrimPrefix(name, confirmationPrefix), confirmationExt)
	if ValidateOrderNumber(orderNumber) != nil {
		return "", false
	}
	return orderNumber, true
}

// NewOrderExport builds the export message for a task.
// Product names and sizes are NFC-normalized so the terminal matches them
// byte for byte against its catalogue.
func NewOrderExport(t task.Task) (OrderExport, error) {
	if err := ValidateOrderNumber(t.OrderNumber); err != nil {
		return OrderExport{}, err
	}
	items, err := task.DecodeItems(t.Items)
	if err != nil {
		return OrderExport{}, fmt.Errorf("order %s: %w", t.OrderNumber, err)
	}

	lines := make([]ExportLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, ExportLine{
			OrderRef: t.OrderNumber,
			Product:  norm.NFC.String(item.Name),
			Size:     norm.NFC.String(item.Size),
			Price:    item.Price,
			Qty:      item.Qty,
		})
	}
	return OrderExport{OrderNumber: t.OrderNumber, Lines: lines}, nil
}

// EncodeExport renders the CSV artifact: header row then one row per line.
func EncodeExport(exp OrderExport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(ExportHeader); err != nil {
		return nil, fmt.Errorf("encode export %s: %w", exp.OrderNumber, err)
	}
	for _, l := range exp.Lines {
		record := []string{
			l.OrderRef,
			l.Product,
			l.Size,
			strconv.FormatFloat(l.Price, 'f', -1, 64),
			strconv.Itoa(l.Qty),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("encode export %s: %w", exp.OrderNumber, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode export %s: %w", exp.OrderNumber, err)
	}
	return buf.Bytes(), nil
}

// DecodeExport parses an export artifact. The order number is taken from the
// order_ref column of the first row, or left empty when there are no rows.
func DecodeExport(data []byte) (OrderExport, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(ExportHeader)

	header, err := r.Read()
	if err != nil {
		return OrderExport{}, fmt.Errorf("%w: header: %v", ErrMalformedExport, err)
	}
	for i, col := range ExportHeader {
		if header[i] != col {
			return OrderExport{}, fmt.Errorf("%w: column %d is %q, want %q", ErrMalformedExport, i+1, header[i], col)
		}
	}

	exp := OrderExport{Lines: []ExportLine{}}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return OrderExport{}, fmt.Errorf("%w: %v", ErrMalformedExport, err)
		}

		price, err := strconv.ParseFloat(record[3], 64)
		if err != nil {
			return OrderExport{}, fmt.Errorf("%w: price %q", ErrMalformedExport, record[3])
		}
		qty, err := strconv.Atoi(record[4])
		if err != nil {
			return OrderExport{}, fmt.Errorf("%w: qty %q", ErrMalformedExport, record[4])
		}

		if exp.OrderNumber == "" {
			exp.OrderNumber = record[0]
		}
		exp.Lines = append(exp.Lines, ExportLine{
			OrderRef: record[0],
			Product:  record[1],
			Size:     record[2],
			Price:    price,
			Qty:      qty,
		})
	}
	return exp, nil
}

// parseInvoice extracts the invoice number from a confirmation artifact.
// A leading byte order mark is dropped along with surrounding whitespace.
func parseInvoice(data []byte) string {
	s := strings.TrimPrefix(string(data), "\ufeff")
	return strings.TrimSpace(s)
}
