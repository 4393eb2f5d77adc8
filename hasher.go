package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Hasher provides the canonical byte encoding spec.md §4.1 mandates as a
// wire-compatibility contract: any implementation must produce
// byte-identical output for equal inputs, or ledger hashes and audit
// chains diverge across implementations. Ported from
// _examples/original_source/finance_kernel/utils/hashing.py.
type Hasher struct{}

// NewHasher constructs a Hasher. It is stateless; the zero value works.
func NewHasher() Hasher { return Hasher{} }

// canonicalize walks an arbitrary value and converts it into a tree of
// map[string]any / []any / string / numbers / bool / nil (signed and
// unsigned integers and floats pass through unchanged), normalizing the
// leaf types hashing.py's _json_serializer handles specially: decimals to
// their normalized string form, timestamps/dates to ISO-8601, UUIDs to
// hex-dashed strings, byte slices to lowercase hex.
func canonicalize(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case decimal.Decimal:
		return normalizeDecimalString(val), nil
	case *decimal.Decimal:
		if val == nil {
			return nil, nil
		}
		return normalizeDecimalString(*val), nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return val.UTC().Format(time.RFC3339Nano), nil
	case uuid.UUID:
		return val.String(), nil
	case *uuid.UUID:
		if val == nil {
			return nil, nil
		}
		return val.String(), nil
	case []byte:
		return hex.EncodeToString(val), nil
	case string, bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return val, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			c, err := canonicalize(elem)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = elem
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			c, err := canonicalize(elem)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case fmt.Stringer:
		return val.String(), nil
	default:
		return nil, ErrSerialization(fmt.Sprintf("unsupported type %T in canonical payload", v))
	}
}

// canonicalJSON renders v (built from canonicalize-safe types) as
// canonical JSON: sorted keys, no insignificant whitespace. encoding/json
// already sorts map[string]T keys and emits no whitespace for Marshal, so
// once the tree has been normalized, a plain Marshal is canonical.
func canonicalJSON(v any) ([]byte, error) {
	normalized, err := canonicalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// normalizeDecimalString reproduces hashing.py's str(obj.normalize()):
// Python's Decimal.normalize() strips trailing zeros to the minimal
// coefficient, then its str() renders plain notation when the adjusted
// exponent is in [-6, 0]-ish range and scientific notation ("1E+2")
// otherwise. Two amounts that compare equal (e.g. 100 and 100.00) must
// hash identically across implementations, so decimal.Decimal.String(),
// which preserves scale, cannot be used here.
func normalizeDecimalString(d decimal.Decimal) string {
	coeff := new(big.Int).Set(d.Coefficient())
	exp := d.Exponent()

	sign := ""
	if coeff.Sign() < 0 {
		sign = "-"
		coeff.Abs(coeff)
	}

	if coeff.Sign() == 0 {
		return sign + "0"
	}

	ten := big.NewInt(10)
	quotient, remainder := new(big.Int), new(big.Int)
	for {
		quotient.QuoRem(coeff, ten, remainder)
		if remainder.Sign() != 0 {
			break
		}
		coeff.Set(quotient)
		exp++
	}

	digits := coeff.String()
	nDigits := len(digits)
	adjusted := int(exp) + nDigits - 1

	if exp <= 0 && adjusted >= -6 {
		if exp == 0 {
			return sign + digits
		}
		point := nDigits + int(exp)
		if point > 0 {
			return sign + digits[:point] + "." + digits[point:]
		}
		return sign + "0." + strings.Repeat("0", -point) + digits
	}

	mantissa := digits[:1]
	if nDigits > 1 {
		mantissa += "." + digits[1:]
	}
	expSign := "+"
	if adjusted < 0 {
		adjusted = -adjusted
		expSign = "-"
	}
	return sign + mantissa + "E" + expSign + strconv.Itoa(adjusted)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashPayload returns the lowercase hex SHA-256 of the canonical JSON
// encoding of payload.
func (Hasher) HashPayload(payload map[string]any) (string, error) {
	b, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	return sha256Hex(b), nil
}

// HashAuditEvent computes the hash-chain link hash for one audit row.
// prevHash is empty for the genesis row, in which case the literal
// "GENESIS" is used as the delimiter value, matching hashing.py.
func (Hasher) HashAuditEvent(entityType, entityID string, action AuditAction, payloadHash string, prevHash *string) string {
	prev := "GENESIS"
	if prevHash != nil && *prevHash != "" {
		prev = *prevHash
	}
	joined := strings.Join([]string{entityType, entityID, string(action), payloadHash, prev}, "|")
	return sha256Hex([]byte(joined))
}

// HashJournalEntry sorts lines by LineSeq and canonical-hashes the pair
// {entry_id, lines}.
func (h Hasher) HashJournalEntry(entryID uuid.UUID, lines []JournalLine) (string, error) {
	sorted := make([]JournalLine, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LineSeq < sorted[j].LineSeq })

	lineMaps := make([]any, len(sorted))
	for i, l := range sorted {
		lineMaps[i] = map[string]any{
			"line_id":     l.LineID,
			"account_id":  l.AccountID,
			"side":        string(l.Side),
			"amount":      l.Amount,
			"currency":    l.Currency,
			"dimensions":  l.Dimensions,
			"is_rounding": l.IsRounding,
			"line_seq":    l.LineSeq,
		}
	}
	payload := map[string]any{
		"entry_id": entryID,
		"lines":    lineMaps,
	}
	b, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	return sha256Hex(b), nil
}

// TrialBalanceRow is one row of a trial balance, as hashed by
// HashTrialBalance.
type TrialBalanceRow struct {
	AccountID   uuid.UUID
	Currency    string
	DebitTotal  decimal.Decimal
	CreditTotal decimal.Decimal
}

// HashTrialBalance sorts rows by (account_id, currency) ascending and
// canonical-hashes them.
func (h Hasher) HashTrialBalance(rows []TrialBalanceRow) (string, error) {
	sorted := make([]TrialBalanceRow, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].AccountID != sorted[j].AccountID {
			return sorted[i].AccountID.String() < sorted[j].AccountID.String()
		}
		return sorted[i].Currency < sorted[j].Currency
	})

	rowMaps := make([]any, len(sorted))
	for i, r := range sorted {
		rowMaps[i] = map[string]any{
			"account_id":   r.AccountID,
			"currency":     r.Currency,
			"debit_total":  r.DebitTotal,
			"credit_total": r.CreditTotal,
		}
	}
	b, err := canonicalJSON(map[string]any{"trial_balance": rowMaps})
	if err != nil {
		return "", err
	}
	return sha256Hex(b), nil
}

// HashTraceBundle excludes the volatile fields generated_at, trace_id, and
// any self-referential bundle_hash nested under "integrity", then
// canonical-hashes the remainder.
func (h Hasher) HashTraceBundle(bundle map[string]any) (string, error) {
	filtered := make(map[string]any, len(bundle))
	for k, v := range bundle {
		if k == "generated_at" || k == "trace_id" {
			continue
		}
		if k == "integrity" {
			if integrity, ok := v.(map[string]any); ok {
				sub := make(map[string]any, len(integrity))
				for ik, iv := range integrity {
					if ik == "bundle_hash" {
						continue
					}
					sub[ik] = iv
				}
				filtered[k] = sub
				continue
			}
		}
		filtered[k] = v
	}
	return h.HashPayload(filtered)
}
