package observability

import "testing"

func TestSampleRatio(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{"", 0.1},
		{"not-a-number", 0.1},
		{"0.5", 0.5},
		{"-2", 0},
		{"3", 1},
	}
	for _, tc := range cases {
		if got := sampleRatio(tc.raw); got != tc.want {
			t.Fatalf("sampleRatio(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestParseHeaders(t *testing.T) {
	headers := parseHeaders(" api-key=secret , x-tenant=kpforge, malformed, =empty ")
	if len(headers) != 2 {
		t.Fatalf("headers = %v", headers)
	}
	if headers["api-key"] != "secret" || headers["x-tenant"] != "kpforge" {
		t.Fatalf("headers = %v", headers)
	}
	if parseHeaders("") != nil {
		t.Fatalf("empty input produced headers")
	}
	if parseHeaders("nonsense") != nil {
		t.Fatalf("malformed input produced headers")
	}
}
