package charts

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"briefbot/pkg/config"
)

const salesTable = `Quarterly results:

| Quarter | Revenue |
|---------|---------|
| Q1      | 1,200   |
| Q2      | $1,450  |
| Q3      | 1800    |

Revenue grew steadily.`

func TestExtractTables(t *testing.T) {
	tables := ExtractTables(salesTable)
	if len(tables) != 1 {
		t.Fatalf("tables = %d, want 1", len(tables))
	}

	table := tables[0]
	if table.Title != "Revenue" {
		t.Fatalf("title = %q, want Revenue", table.Title)
	}
	if table.NumericColumn != 1 {
		t.Fatalf("numeric column = %d, want 1", table.NumericColumn)
	}

	labels := table.Labels()
	if len(labels) != 3 || labels[0] != "Q1" {
		t.Fatalf("labels = %v", labels)
	}

	values := table.Values()
	want := []float64{1200, 1450, 1800}
	for i, value := range values {
		if value != want[i] {
			t.Fatalf("values = %v, want %v", values, want)
		}
	}
}

func TestExtractTablesSkipsInvalid(t *testing.T) {
	cases := map[string]string{
		"no separator": "| A | B |\n| x | 1 |\n| y | 2 |",
		"one data row": "| A | B |\n|---|---|\n| x | 1 |",
		"no numbers":   "| A | B |\n|---|---|\n| x | p |\n| y | q |",
		"ragged rows":  "| A | B |\n|---|---|\n| x | 1 | extra |\n| y | 2 |",
		"plain text":   "no tables here",
	}

	for name, text := range cases {
		if tables := ExtractTables(text); tables != nil {
			t.Errorf("%s: tables = %v, want none", name, tables)
		}
	}
}

func TestExtractTablesMultiple(t *testing.T) {
	text := salesTable + "\n\n| Region | Users |\n|--------|-------|\n| EU     | 10    |\n| US     | 20    |\n"
	tables := ExtractTables(text)
	if len(tables) != 2 {
		t.Fatalf("tables = %d, want 2", len(tables))
	}
	if tables[1].Title != "Users" {
		t.Fatalf("second title = %q, want Users", tables[1].Title)
	}
}

func TestServiceFromText(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		w.Write(png)
	}))
	defer server.Close()

	service := NewService(config.ChartsConfig{Enabled: true, RenderURL: server.URL}, nil)

	visualizations := service.FromText(context.Background(), salesTable)
	if len(visualizations) != 1 {
		t.Fatalf("visualizations = %d, want 1", len(visualizations))
	}
	if visualizations[0].Name != "chart_1.png" {
		t.Fatalf("name = %q", visualizations[0].Name)
	}
	if !bytes.Equal(visualizations[0].PNG, png) {
		t.Fatalf("png = %v", visualizations[0].PNG)
	}
}

func TestServiceSkipsFailedRenders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	service := NewService(config.ChartsConfig{Enabled: true, RenderURL: server.URL}, nil)

	if visualizations := service.FromText(context.Background(), salesTable); visualizations != nil {
		t.Fatalf("visualizations = %v, want none on render failure", visualizations)
	}
}

func TestDisabledServiceIsNil(t *testing.T) {
	service := NewService(config.ChartsConfig{Enabled: false}, nil)
	if service != nil {
		t.Fatal("expected nil service when disabled")
	}
	// nil receiver is usable.
	if visualizations := service.FromText(context.Background(), salesTable); visualizations != nil {
		t.Fatalf("visualizations = %v, want none from nil service", visualizations)
	}
}
