package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/example/session-booking/internal/window"
)

//go:embed registration.schema.json
var registrationSchemaJSON []byte

const registrationSchemaURL = "https://schemas.example.com/session-booking/registration.schema.json"

var (
	registrationSchemaOnce sync.Once
	registrationSchema     *jsonschema.Schema
	registrationSchemaErr  error
)

// RegistrationDocument is the operator-maintained admission policy.
type RegistrationDocument struct {
	NormalWindow         window.Window
	PrivilegeWindow      window.Window
	WeeklyLimitNormal    int
	WeeklyLimitPrivilege int
	PrivilegeUserIDs     []string
	EmergencyClosed      bool
}

type windowJSON struct {
	OpenDay   int    `json:"open_day"`
	CloseDay  int    `json:"close_day"`
	OpenTime  string `json:"open_time"`
	CloseTime string `json:"close_time"`
}

type registrationJSON struct {
	NormalWindow         windowJSON `json:"normal_window"`
	PrivilegeWindow      windowJSON `json:"privilege_window"`
	WeeklyLimitNormal    int        `json:"weekly_limit_normal"`
	WeeklyLimitPrivilege int        `json:"weekly_limit_privilege"`
	PrivilegeUserIDs     []string   `json:"privilege_user_ids"`
	EmergencyClosed      bool       `json:"emergency_closed"`
}

func compiledRegistrationSchema() (*jsonschema.Schema, error) {
	registrationSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(registrationSchemaURL, bytes.NewReader(registrationSchemaJSON)); err != nil {
			registrationSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		registrationSchema, registrationSchemaErr = compiler.Compile(registrationSchemaURL)
	})
	return registrationSchema, registrationSchemaErr
}

// LoadRegistrationDocument reads and validates the registration document at path.
func LoadRegistrationDocument(path string) (RegistrationDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RegistrationDocument{}, fmt.Errorf("config: read registration document: %w", err)
	}
	return ParseRegistrationDocument(raw)
}

// ParseRegistrationDocument validates raw against the registration schema and
// converts it.
func ParseRegistrationDocument(raw []byte) (RegistrationDocument, error) {
	schema, err := compiledRegistrationSchema()
	if err != nil {
		return RegistrationDocument{}, fmt.Errorf("config: compile registration schema: %w", err)
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return RegistrationDocument{}, fmt.Errorf("config: decode registration document: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return RegistrationDocument{}, fmt.Errorf("config: invalid registration document: %w", err)
	}

	var doc registrationJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return RegistrationDocument{}, fmt.Errorf("config: decode registration document: %w", err)
	}
	normal, err := doc.NormalWindow.toWindow()
	if err != nil {
		return RegistrationDocument{}, fmt.Errorf("config: normal_window: %w", err)
	}
	privilege, err := doc.PrivilegeWindow.toWindow()
	if err != nil {
		return RegistrationDocument{}, fmt.Errorf("config: privilege_window: %w", err)
	}
	privileged := doc.PrivilegeUserIDs
	if privileged == nil {
		privileged = []string{}
	}
	return RegistrationDocument{
		NormalWindow:         normal,
		PrivilegeWindow:      privilege,
		WeeklyLimitNormal:    doc.WeeklyLimitNormal,
		WeeklyLimitPrivilege: doc.WeeklyLimitPrivilege,
		PrivilegeUserIDs:     privileged,
		EmergencyClosed:      doc.EmergencyClosed,
	}, nil
}

func (w windowJSON) toWindow() (window.Window, error) {
	open, err := window.ParseTimeOfDay(w.OpenTime)
	if err != nil {
		return window.Window{}, err
	}
	closing, err := window.ParseTimeOfDay(w.CloseTime)
	if err != nil {
		return window.Window{}, err
	}
	out := window.Window{
		OpenDay:   window.DayOfWeek(w.OpenDay),
		CloseDay:  window.DayOfWeek(w.CloseDay),
		OpenTime:  open,
		CloseTime: closing,
	}
	return out, out.Validate()
}
