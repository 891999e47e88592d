package epson

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ivanvanderbyl/epson-projector/pkg/entries"
)

type ResultType string

const (
	ResultTypeForm        ResultType = "form"
	ResultTypeCreateEntry ResultType = "create_entry"
	ResultTypeAbort       ResultType = "abort"
)

const (
	FlowVersion     = 1
	ConnectionClass = "local_poll"

	StepUser = "user"

	FieldHost = "host"
	FieldName = "name"

	// Form error keys and codes
	ErrorBase          = "base"
	ErrorCannotConnect = "cannot_connect"
	ErrorPoweredOff    = "powered_off"
	ErrorRequired      = "required"

	AbortAlreadyConfigured = "already_configured"
)

type Field struct {
	Key      string
	Required bool
	Default  string
}

// DataSchema describes the form shown by the wizard
var DataSchema = []Field{
	{Key: FieldHost, Required: true},
	{Key: FieldName, Required: true, Default: Domain},
}

// FlowResult is the outcome of one wizard step: a form to show (possibly with
// errors), an entry to create, or an abort.
type FlowResult struct {
	Type     ResultType
	StepID   string
	Schema   []Field
	Errors   map[string]string
	Reason   string
	Title    string
	UniqueID string
	Source   entries.Source
	Data     entries.Data
}

// Entry converts a create_entry result into an entry ready to be stored
func (r FlowResult) Entry() entries.Entry {
	return entries.Entry{
		Domain:   Domain,
		Title:    r.Title,
		UniqueID: r.UniqueID,
		Source:   r.Source,
		Data:     r.Data,
	}
}

type UniqueIDLookup interface {
	HasUniqueID(domain, uniqueID string) bool
}

// ConfigFlow creates config entries either from static configuration (import)
// or from user input.
type ConfigFlow struct {
	Validator *Validator
	Entries   UniqueIDLookup
}

func NewConfigFlow(validator *Validator, lookup UniqueIDLookup) *ConfigFlow {
	return &ConfigFlow{Validator: validator, Entries: lookup}
}

// ImportUniqueID derives the unique ID used for imported entries
func ImportUniqueID(host, name string) string {
	return strings.ReplaceAll(host+name, ".", "")
}

// StepImport creates an entry from static configuration, keyed on host and name.
func (f *ConfigFlow) StepImport(ctx context.Context, input entries.Data) FlowResult {
	input = withDefaults(input)
	if errs := validateInput(input); errs != nil {
		return showForm(errs)
	}

	uniqueID := ImportUniqueID(input.Host, input.Name)

	res := f.Validator.Validate(ctx, input.Host, true)
	if !res.OK() {
		return showForm(validationErrors(ctx, res))
	}
	res.Session.Close()

	if f.Entries.HasUniqueID(Domain, uniqueID) {
		return abort(AbortAlreadyConfigured)
	}

	return createEntry(input, uniqueID, entries.SourceImport)
}

// StepUser handles the interactive form. A nil input shows the empty form.
// The projector's serial number is the unique ID.
func (f *ConfigFlow) StepUser(ctx context.Context, input *entries.Data) FlowResult {
	if input == nil {
		return showForm(map[string]string{})
	}

	data := withDefaults(*input)
	if errs := validateInput(data); errs != nil {
		return showForm(errs)
	}

	res := f.Validator.Validate(ctx, data.Host, true)
	if !res.OK() {
		return showForm(validationErrors(ctx, res))
	}
	defer res.Session.Close()

	serial, err := res.Session.GetSerialNumber(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read projector serial number", "host", data.Host, "error", err)
		return showForm(map[string]string{ErrorBase: ErrorCannotConnect})
	}

	if f.Entries.HasUniqueID(Domain, serial) {
		return abort(AbortAlreadyConfigured)
	}

	return createEntry(data, serial, entries.SourceUser)
}

func withDefaults(d entries.Data) entries.Data {
	d.Host = strings.TrimSpace(d.Host)
	if d.Name == "" {
		d.Name = Domain
	}
	return d
}

func validateInput(d entries.Data) map[string]string {
	if d.Host == "" {
		return map[string]string{FieldHost: ErrorRequired}
	}
	return nil
}

func validationErrors(ctx context.Context, res Result) map[string]string {
	slog.DebugContext(ctx, "Projector validation failed", "status", res.Status.String(), "error", res.Err())

	if res.Status == StatusPoweredOff {
		return map[string]string{ErrorBase: ErrorPoweredOff}
	}
	return map[string]string{ErrorBase: ErrorCannotConnect}
}

func showForm(errs map[string]string) FlowResult {
	return FlowResult{
		Type:   ResultTypeForm,
		StepID: StepUser,
		Schema: DataSchema,
		Errors: errs,
	}
}

func abort(reason string) FlowResult {
	return FlowResult{Type: ResultTypeAbort, Reason: reason}
}

func createEntry(d entries.Data, uniqueID string, source entries.Source) FlowResult {
	return FlowResult{
		Type:     ResultTypeCreateEntry,
		Title:    d.Name,
		UniqueID: uniqueID,
		Source:   source,
		Data:     d,
	}
}
