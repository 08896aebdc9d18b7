package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PropertyStatus is the fixed display vocabulary every raw backend status is
// coerced into. Defaulting to Available is a display policy, not a data-quality
// signal.
type PropertyStatus string

const (
	StatusAvailable PropertyStatus = "Available"
	StatusPending   PropertyStatus = "Pending"
	StatusLeased    PropertyStatus = "Leased"
)

type RentKind string

const (
	RentText       RentKind = "text"
	RentStructured RentKind = "structured"
)

// Rent reconciles the two historical wire shapes: a plain display string and a
// structured {amount, frequency} pair. Both parse; the tagged form is the only
// shape emitted.
type Rent struct {
	Kind      RentKind `json:"kind"`
	Value     string   `json:"value,omitempty"`
	Amount    float64  `json:"amount,omitempty"`
	Frequency string   `json:"frequency,omitempty"`
}

func (r *Rent) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*r = Rent{Kind: RentText, Value: v}
		return nil
	}
	var obj struct {
		Kind      RentKind `json:"kind"`
		Value     string   `json:"value"`
		Amount    float64  `json:"amount"`
		Frequency string   `json:"frequency"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("rent: %w", err)
	}
	if obj.Kind == "" {
		obj.Kind = RentStructured
		if obj.Value != "" && obj.Amount == 0 {
			obj.Kind = RentText
		}
	}
	*r = Rent{Kind: obj.Kind, Value: obj.Value, Amount: obj.Amount, Frequency: obj.Frequency}
	return nil
}

// Display renders the rent for UI consumption regardless of kind.
func (r *Rent) Display() string {
	if r == nil {
		return ""
	}
	if r.Kind == RentStructured {
		if r.Frequency != "" {
			return fmt.Sprintf("%.2f / %s", r.Amount, r.Frequency)
		}
		return fmt.Sprintf("%.2f", r.Amount)
	}
	return r.Value
}

// Broker is a contact attached to a Property. Email may be absent in the raw
// payload; callers derive a deterministic fallback via app.ResolveBrokerEmail.
type Broker struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Property is one extracted listing. A snapshot batch is immutable lookup data
// for the session except for EmailSent, which may be patched in place by id.
type Property struct {
	ID           string         `json:"id"`
	Title        string         `json:"title,omitempty"`
	Address      string         `json:"address,omitempty"`
	Submarket    string         `json:"submarket,omitempty"`
	PropertyType string         `json:"propertyType,omitempty"`
	Rent         *Rent          `json:"rent,omitempty"`
	Status       PropertyStatus `json:"status"`
	BuiltYear    *int           `json:"builtYear,omitempty"`
	SizeSF       *float64       `json:"sizeSf,omitempty"`
	AvailableSF  *float64       `json:"availableSf,omitempty"`
	Notes        string         `json:"notes,omitempty"`
	ImageURL     string         `json:"imageUrl,omitempty"`
	Brokers      []Broker       `json:"brokers"`
	EmailSent    bool           `json:"emailSent"`
}

// Summary holds the derived counts shown above the property list.
type Summary struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Pending   int `json:"pending"`
	Leased    int `json:"leased"`
}

// ContactMessage is one broker contact submission.
type ContactMessage struct {
	BrokerEmail   string `json:"brokerEmail"`
	BrokerName    string `json:"brokerName"`
	PropertyTitle string `json:"propertyTitle"`
	Message       string `json:"message"`
}
