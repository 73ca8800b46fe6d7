package main

import "testing"

func TestParseHostArgs(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		dir     string
		title   string
		wantErr bool
	}{
		{name: "dir only", args: []string{"./peer"}, dir: "./peer"},
		{name: "title after dir", args: []string{"./peer", "-title", "Friday session"}, dir: "./peer", title: "Friday session"},
		{name: "title before dir", args: []string{"-title", "Friday session", "./peer"}, dir: "./peer", title: "Friday session"},
		{name: "no args", args: nil, wantErr: true},
		{name: "only flags", args: []string{"-title", "x"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir, title, err := parseHostArgs(tc.args)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got dir=%q title=%q", dir, title)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if dir != tc.dir || title != tc.title {
				t.Errorf("got dir=%q title=%q, want dir=%q title=%q", dir, title, tc.dir, tc.title)
			}
		})
	}
}
