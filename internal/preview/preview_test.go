package preview

import "testing"

func TestPath(t *testing.T) {
	cases := map[string]string{
		"/work/result_3600s.fit": "/work/result_3600s.jpg",
		"/work/result_120s.fits": "/work/result_120s.jpg",
		"result_0s":              "result_0s.jpg",
	}
	for in, want := range cases {
		if got := Path(in); got != want {
			t.Fatalf("Path(%q) = %q, want %q", in, got, want)
		}
	}
}
