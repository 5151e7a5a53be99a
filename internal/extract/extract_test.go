package extract

import (
	"errors"
	"testing"
)

func TestText(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		data        string
		want        string
	}{
		{
			name:        "plain text",
			contentType: "text/plain; charset=utf-8",
			data:        "Giornata 3\r\n\r\n\r\n\r\nArrivammo   a Borgo Nero.  ",
			want:        "Giornata 3\n\nArrivammo a Borgo Nero.",
		},
		{
			name:        "markdown",
			contentType: "text/markdown",
			data:        "# Giornata 1\nIncontrammo Mira.",
			want:        "# Giornata 1\nIncontrammo Mira.",
		},
		{
			name:        "html",
			contentType: "text/html",
			data: `<html><head><title>Log</title><style>p { color: red }</style></head>
<body>
  <h1>Giornata 3</h1>
  <p>Arrivammo a <b>Borgo Nero</b>.</p>
  <script>alert("x")</script>
</body></html>`,
			want: "Giornata 3\n\nArrivammo a Borgo Nero.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Text(tt.contentType, []byte(tt.data))
			if err != nil {
				t.Fatalf("Text: %v", err)
			}
			if got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestText_Errors(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		data        []byte
		unsupported bool
	}{
		{"image", "image/png", []byte{0x89, 'P', 'N', 'G'}, true},
		{"empty type", "", []byte("x"), true},
		{"broken pdf", "application/pdf", []byte("%PDF-1.4 not really"), false},
		{"invalid utf8", "text/plain", []byte{0xff, 0xfe, 0xfd}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Text(tt.contentType, tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrUnsupported); got != tt.unsupported {
				t.Errorf("ErrUnsupported = %v, want %v (%v)", got, tt.unsupported, err)
			}
		})
	}
}
