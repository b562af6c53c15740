// Package ledgerkey encodes ledger entries as sortable object-store keys.
//
// A full key is "<ISO-8601 datetime>/<transaction id>/<code><value>", where
// value is a 13-character fixed-point decimal with 6 fractional digits. When
// the receipted value differs from the held value it is appended after a "T"
// in the same width. Zero padding makes lexicographic order equal
// chronological and value order, so range scans need no extra sorting.
package ledgerkey

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-core/internal/domain"
	"ledger-core/internal/errors"
)

// TimeLayout is the fixed-width ISO-8601 form used in ledger keys. Times are
// always UTC so the zone suffix stays a single "Z".
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

const (
	valueWidth       = 13
	receiptedTag     = "T"
	codeLen          = 2
	plainTailLen     = codeLen + valueWidth
	receiptedTailLen = plainTailLen + 1 + valueWidth
	fractionalDigits = 6
)

// EncodeValue renders the code+value tail of a ledger key. receipted is only
// written out when it differs from value.
func EncodeValue(code domain.TransactionCode, value decimal.Decimal, receipted *decimal.Decimal) (string, error) {
	if !code.Valid() {
		return "", errors.NewAppErrorf(errors.InvalidValue, "unknown transaction code %q", code)
	}

	tail := string(code) + formatValue(value)
	if receipted != nil && !receipted.Equal(value) {
		tail += receiptedTag + formatValue(*receipted)
	}
	return tail, nil
}

// Encode renders the full ledger key for info.
func Encode(info *domain.TransactionInfo) (string, error) {
	if info.ID == uuid.Nil {
		return "", errors.NewAppError(errors.InvalidValue, "transaction info requires an id")
	}

	tail, err := EncodeValue(info.Code, info.Value, info.ReceiptedValue)
	if err != nil {
		return "", err
	}
	return info.DateTime.UTC().Format(TimeLayout) + "/" + info.ID.String() + "/" + tail, nil
}

// Decode parses a ledger key back into a TransactionInfo. Keys may carry
// extra path prefixes (account or bucket scoping); segments are scanned from
// the end, trying successive positions as {datetime, id, code+value} until
// one parses.
func Decode(key string) (*domain.TransactionInfo, error) {
	segments := strings.Split(key, "/")
	for i := len(segments) - 3; i >= 0; i-- {
		info, err := decodeSegments(segments[i], segments[i+1], segments[i+2])
		if err == nil {
			return info, nil
		}
	}
	return nil, errors.NewAppErrorf(errors.MalformedKey, "no ledger entry found in key %q", key)
}

func decodeSegments(datetime, id, tail string) (*domain.TransactionInfo, error) {
	at, err := time.Parse(TimeLayout, datetime)
	if err != nil {
		return nil, errors.NewAppError(errors.MalformedKey, "bad datetime segment").WithDetails(err.Error())
	}

	txID, err := uuid.Parse(id)
	if err != nil {
		return nil, errors.NewAppError(errors.MalformedKey, "bad transaction id segment").WithDetails(err.Error())
	}

	if len(tail) != plainTailLen && len(tail) != receiptedTailLen {
		return nil, errors.NewAppErrorf(errors.MalformedKey, "bad value segment length %d", len(tail))
	}

	code := domain.TransactionCode(tail[:codeLen])
	if !code.Valid() {
		return nil, errors.NewAppErrorf(errors.MalformedKey, "unknown transaction code %q", code)
	}

	value, err := decimal.NewFromString(tail[codeLen:plainTailLen])
	if err != nil {
		return nil, errors.NewAppError(errors.MalformedKey, "bad value").WithDetails(err.Error())
	}

	info := &domain.TransactionInfo{
		Code:     code,
		Value:    value,
		DateTime: at,
		ID:       txID,
	}

	if len(tail) == receiptedTailLen {
		if tail[plainTailLen:plainTailLen+1] != receiptedTag {
			return nil, errors.NewAppError(errors.MalformedKey, "bad receipted value separator")
		}
		receipted, err := decimal.NewFromString(tail[plainTailLen+1:])
		if err != nil {
			return nil, errors.NewAppError(errors.MalformedKey, "bad receipted value").WithDetails(err.Error())
		}
		info.ReceiptedValue = &receipted
	}
	return info, nil
}

// formatValue renders d as a zero-padded fixed-point string of valueWidth
// characters, 6 fractional digits, sign included in the width.
func formatValue(d decimal.Decimal) string {
	s := d.StringFixed(fractionalDigits)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign = "-"
		s = s[1:]
	}
	if pad := valueWidth - len(sign) - len(s); pad > 0 {
		s = strings.Repeat("0", pad) + s
	}
	return sign + s
}
