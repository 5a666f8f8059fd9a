package memory

import (
	"reflect"
	"testing"
)

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{
			in:   "Deploy the API server",
			want: []string{"deploy", "the", "api", "server"},
		},
		{
			// single letters and single digits are noise
			in:   "a b 7 Go 42",
			want: []string{"go", "42"},
		},
		{
			// three CJK chars: 2-grams only
			in:   "天气好",
			want: []string{"天气", "气好"},
		},
		{
			// four CJK chars: 2-grams plus 3-grams
			in:   "今天天气",
			want: []string{"今天", "天天", "天气", "今天天", "天天气"},
		},
		{
			in:   "查询 weather API",
			want: []string{"weather", "api", "查询"},
		},
		{
			in:   "",
			want: nil,
		},
	}
	for _, tt := range tests {
		if got := ExtractKeywords(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ExtractKeywords(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestExtractKeywordsDedup(t *testing.T) {
	got := ExtractKeywords("test TEST Test")
	if !reflect.DeepEqual(got, []string{"test"}) {
		t.Errorf("dedup = %v", got)
	}
}
