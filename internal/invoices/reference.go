package invoices

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	pkgerrors "github.com/kotilabs/housing-backend/pkg/errors"
)

const (
	referenceBase   = 1_000_000_000
	referenceModulo = 1_000_000_000

	barcodeVersion   = "4"
	barcodeMaxCents  = 99_999_999
	referenceMaxLen  = 20
	ibanDigitsLength = 16
)

// ReferenceNumber derives the Finnish creditor reference for an invoice id:
// ten hash-derived digits followed by a 7-3-1 check digit. The same id
// always yields the same reference; distinct ids may collide.
func ReferenceNumber(invoiceID uuid.UUID) string {
	sum := xxhash.Sum64(invoiceID[:])
	base := strconv.FormatUint(sum%referenceModulo+referenceBase, 10)
	return base + strconv.Itoa(checkDigit(base))
}

// ValidReference reports whether ref is all digits with a correct check digit.
func ValidReference(ref string) bool {
	if len(ref) < 4 || len(ref) > referenceMaxLen || !allDigits(ref) {
		return false
	}
	body, check := ref[:len(ref)-1], int(ref[len(ref)-1]-'0')
	return checkDigit(body) == check
}

// checkDigit applies weights 7, 3, 1 from the rightmost digit leftwards.
func checkDigit(digits string) int {
	weights := [3]int{7, 3, 1}
	sum := 0
	for i := 0; i < len(digits); i++ {
		d := int(digits[len(digits)-1-i] - '0')
		sum += d * weights[i%3]
	}
	return (10 - sum%10) % 10
}

// FormatReference groups a reference into blocks of five counted from the
// right, as printed on paper invoices.
func FormatReference(ref string) string {
	ref = strings.ReplaceAll(ref, " ", "")
	if len(ref) <= 5 {
		return ref
	}
	var groups []string
	for end := len(ref); end > 0; end -= 5 {
		start := end - 5
		if start < 0 {
			start = 0
		}
		groups = append([]string{ref[start:end]}, groups...)
	}
	return strings.Join(groups, " ")
}

// VirtualBarcode builds the 54-digit version 4 bank barcode:
// version, IBAN digits, euros, cents, reserve, reference, due date.
// Amounts that do not fit encode as zeros and a missing due date as 000000.
func VirtualBarcode(iban string, subtotalCents int64, reference string, dueDate *time.Time) (string, error) {
	account, err := ibanDigits(iban)
	if err != nil {
		return "", err
	}
	ref := strings.ReplaceAll(reference, " ", "")
	if ref == "" || len(ref) > referenceMaxLen || !allDigits(ref) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "reference must be 1-20 digits")
	}

	amount := subtotalCents
	if amount < 0 || amount > barcodeMaxCents {
		amount = 0
	}
	due := "000000"
	if dueDate != nil && !dueDate.IsZero() {
		due = dueDate.Format("060102")
	}

	var b strings.Builder
	b.Grow(54)
	b.WriteString(barcodeVersion)
	b.WriteString(account)
	fmt.Fprintf(&b, "%06d%02d", amount/100, amount%100)
	b.WriteString("000")
	b.WriteString(strings.Repeat("0", referenceMaxLen-len(ref)))
	b.WriteString(ref)
	b.WriteString(due)
	return b.String(), nil
}

func ibanDigits(iban string) (string, error) {
	clean := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(iban), " ", ""))
	if len(clean) != 2+ibanDigitsLength || !strings.HasPrefix(clean, "FI") || !allDigits(clean[2:]) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "bank account must be a Finnish IBAN")
	}
	return clean[2:], nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
