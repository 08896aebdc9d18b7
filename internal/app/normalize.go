package app

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"propintel/internal/domain"
)

/********** alias registries (single source of truth) **********/

// The two frontend generations spelled the same fields differently
// (snake_case vs camelCase, plus a few renames). Every spelling seen in the
// wild is listed here; downstream code only ever sees the canonical schema.
var propertyAliases = map[string][]string{
	"id":        {"id", "property_id", "propertyId"},
	"title":     {"title", "name", "property_name"},
	"address":   {"address", "full_address", "location.address"},
	"submarket": {"submarket", "sub_market", "market"},
	"type":      {"property_type", "propertyType", "type"},
	"status":    {"status", "availability", "listing_status"},
	"notes":     {"notes", "description", "desc"},
	"image":     {"image_url", "imageUrl", "image", "photo"},
}

var brokerAliases = map[string][]string{
	"name":  {"name", "broker_name", "contact_name"},
	"email": {"email", "broker_email", "contact_email"},
	"phone": {"phone", "phone_number", "tel"},
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// lookupStr returns string at path or "".
func lookupStr(m map[string]any, path string) string {
	if v := lookupAny(m, path); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// firstAliasStr: first non-empty string for a named alias set.
func firstAliasStr(m map[string]any, key string) string {
	for _, p := range propertyAliases[key] {
		if s := strings.TrimSpace(lookupStr(m, p)); s != "" {
			return s
		}
	}
	return ""
}

// floatAt: number from several paths (float64/int/string like "12,500").
func floatAt(m map[string]any, paths ...string) *float64 {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case float64:
			f := v
			return &f
		case int:
			f := float64(v)
			return &f
		case string:
			s := strings.TrimSpace(strings.ReplaceAll(v, ",", ""))
			if s == "" {
				continue
			}
			var f float64
			if err := json.Unmarshal([]byte(s), &f); err == nil {
				return &f
			}
		}
	}
	return nil
}

func intAt(m map[string]any, paths ...string) *int {
	if f := floatAt(m, paths...); f != nil {
		n := int(*f)
		return &n
	}
	return nil
}

func boolAt(m map[string]any, paths ...string) bool {
	for _, k := range paths {
		if b, ok := lookupAny(m, k).(bool); ok {
			return b
		}
	}
	return false
}

/********** normalization (spec'd pure functions) **********/

// NormalizeStatus coerces a freeform backend status into the fixed display
// vocabulary. Total and deterministic; unknown or absent values read as
// Available by display policy.
func NormalizeStatus(raw string) domain.PropertyStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "vacant", "proposed", "available":
		return domain.StatusAvailable
	case "pending":
		return domain.StatusPending
	case "leased":
		return domain.StatusLeased
	default:
		return domain.StatusAvailable
	}
}

// ResolveBrokerEmail returns the broker's email, or a deterministic fallback
// derived from the name: lowercase, letters kept, whitespace runs collapsed to
// single dots, placeholder domain appended. Pure and idempotent; an empty name
// yields default@example.com.
func ResolveBrokerEmail(b domain.Broker) string {
	if e := strings.TrimSpace(b.Email); e != "" {
		return e
	}
	var sb strings.Builder
	pendingDot := false
	for _, r := range strings.TrimSpace(strings.ToLower(b.Name)) {
		switch {
		case r >= 'a' && r <= 'z':
			if pendingDot && sb.Len() > 0 {
				sb.WriteByte('.')
			}
			pendingDot = false
			sb.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n' || r == '.':
			pendingDot = true
		}
	}
	local := sb.String()
	if local == "" {
		return "default@example.com"
	}
	return local + "@example.com"
}

/********** raw-payload coercion **********/

// CoerceBatch maps raw extraction records into the canonical Property schema.
// Records that are entirely empty after coercion are dropped with a warning.
func CoerceBatch(in []map[string]any) []domain.Property {
	out := make([]domain.Property, 0, len(in))
	for i, raw := range in {
		p := CoerceProperty(raw)
		if p.ID == "" && p.Title == "" && p.Address == "" {
			log.Warn().Int("index", i).Msg("dropping empty extraction record")
			continue
		}
		out = append(out, p)
	}
	return out
}

func CoerceProperty(raw map[string]any) domain.Property {
	p := domain.Property{
		Title:        firstAliasStr(raw, "title"),
		Address:      firstAliasStr(raw, "address"),
		Submarket:    firstAliasStr(raw, "submarket"),
		PropertyType: firstAliasStr(raw, "type"),
		Status:       NormalizeStatus(firstAliasStr(raw, "status")),
		Notes:        firstAliasStr(raw, "notes"),
		ImageURL:     firstAliasStr(raw, "image"),
		BuiltYear:    intAt(raw, "built_year", "builtYear", "year_built"),
		SizeSF:       floatAt(raw, "size_sf", "sizeSf", "total_sf"),
		AvailableSF:  floatAt(raw, "available_sf", "availableSf"),
		Rent:         coerceRent(lookupAny(raw, "rent")),
		Brokers:      coerceBrokers(lookupAny(raw, "brokers")),
		EmailSent:    boolAt(raw, "email_sent", "emailSent"),
	}

	p.ID = coerceID(raw, p)
	return p
}

// coerceID prefers the backend-assigned id; when absent it synthesizes a
// stable content hash. Array position is never used — it breaks under
// filtering and search.
func coerceID(raw map[string]any, p domain.Property) string {
	for _, path := range propertyAliases["id"] {
		switch v := lookupAny(raw, path).(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			b, _ := json.Marshal(v)
			return string(b)
		}
	}
	sum := sha1.Sum([]byte(p.Title + "\x00" + p.Address + "\x00" + p.Submarket))
	return "prop-" + hex.EncodeToString(sum[:6])
}

func coerceRent(v any) *domain.Rent {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return &domain.Rent{Kind: domain.RentText, Value: s}
		}
	case float64:
		return &domain.Rent{Kind: domain.RentStructured, Amount: t}
	case map[string]any:
		r := domain.Rent{Kind: domain.RentStructured}
		if a := floatAt(t, "amount", "value"); a != nil {
			r.Amount = *a
		}
		for _, k := range []string{"frequency", "period", "per"} {
			if s := strings.TrimSpace(lookupStr(t, k)); s != "" {
				r.Frequency = s
				break
			}
		}
		if r.Amount != 0 || r.Frequency != "" {
			return &r
		}
	}
	return nil
}

func coerceBrokers(v any) []domain.Broker {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]domain.Broker, 0, len(raw))
	for _, it := range raw {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		b := domain.Broker{}
		for _, p := range brokerAliases["name"] {
			if s := strings.TrimSpace(lookupStr(m, p)); s != "" {
				b.Name = s
				break
			}
		}
		if b.Name == "" {
			continue
		}
		for _, p := range brokerAliases["email"] {
			if s := strings.TrimSpace(lookupStr(m, p)); s != "" {
				b.Email = s
				break
			}
		}
		for _, p := range brokerAliases["phone"] {
			if s := strings.TrimSpace(lookupStr(m, p)); s != "" {
				b.Phone = s
				break
			}
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
