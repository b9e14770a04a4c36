package supportwidget

import "embed"

// TemplateFS contains the embedded HTML templates of the demo page and the widget. The templates are
// organized in layouts, pages and the partials pushed to the browser on every widget change.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded script and stylesheet of the widget.
//
//go:embed static/*
var StaticFS embed.FS

// DefaultFAQ is the catalog the mock backend answers from when no other catalog is given.
//
//go:embed faq.yaml
var DefaultFAQ []byte
