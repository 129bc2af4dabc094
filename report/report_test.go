package report_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vinns/concierge/report"
)

func TestStaffReport(t *testing.T) {
	d := report.NewDesk(report.Options{})
	defer d.Close()
	r, err := d.Open("g", "c", "u")
	if err != nil {
		t.Fatalf("couldn't open: %v", err)
	}
	if r.Stage != report.Choosing {
		t.Errorf("wrong stage after open: %v", r.Stage)
	}
	if _, err := d.Open("g", "c", "u"); !errors.Is(err, report.ErrInProgress) {
		t.Errorf("wrong error opening twice: %v", err)
	}
	if _, err := d.Answer("c", "u", "early"); !errors.Is(err, report.ErrWrongStage) {
		t.Errorf("wrong error answering before choosing: %v", err)
	}
	r, err = d.Choose("c", "u", report.Staff)
	if err != nil {
		t.Fatalf("couldn't choose: %v", err)
	}
	if r.Next() != "**Staff Report**\nWhat is the username of the user you're reporting?" {
		t.Errorf("wrong first question: %q", r.Next())
	}
	for _, a := range []string{"  kita  ", "Manager", "café griefing"} {
		r, err = d.Answer("c", "u", a)
		if err != nil {
			t.Fatalf("couldn't answer %q: %v", a, err)
		}
	}
	if r.Stage != report.Proving {
		t.Fatalf("wrong stage after answers: %v", r.Stage)
	}
	want := []report.Answer{
		{Question: report.Questions(report.Staff)[0], Text: "kita"},
		{Question: report.Questions(report.Staff)[1], Text: "Manager"},
		{Question: report.Questions(report.Staff)[2], Text: "café griefing"},
	}
	if diff := cmp.Diff(want, r.Answers); diff != "" {
		t.Errorf("wrong answers (-want +got):\n%s", diff)
	}
	if _, err := d.Finish("c", "u"); !errors.Is(err, report.ErrNoProof) {
		t.Errorf("wrong error finishing without proof: %v", err)
	}
	file := report.Proof{URL: "https://cdn.example/a.png", Name: "a.png", ContentType: "image/png", Data: []byte("png")}
	r, n, err := d.Prove("c", "u", "look <https://example.com/clip.mp4> here", []report.Proof{file})
	if err != nil {
		t.Fatalf("couldn't add proof: %v", err)
	}
	if n != 2 {
		t.Errorf("wrong number of proofs added: want 2, got %d", n)
	}
	r, err = d.Finish("c", "u")
	if err != nil {
		t.Fatalf("couldn't finish: %v", err)
	}
	wantProofs := []report.Proof{file, {URL: "https://example.com/clip.mp4"}}
	if diff := cmp.Diff(wantProofs, r.Proofs); diff != "" {
		t.Errorf("wrong proofs (-want +got):\n%s", diff)
	}
	if r.Stage != report.Submitted {
		t.Errorf("wrong stage after finish: %v", r.Stage)
	}
	if d.Len() != 0 {
		t.Errorf("finished report still open")
	}
	if _, err := d.Open("g", "c", "u"); err != nil {
		t.Errorf("couldn't open after finishing: %v", err)
	}
}

func TestGuestReport(t *testing.T) {
	d := report.NewDesk(report.Options{})
	defer d.Close()
	d.Open("g", "c", "u")
	d.Choose("c", "u", report.Guest)
	d.Answer("c", "u", "ryou")
	r, err := d.Answer("c", "u", "borrowing money")
	if err != nil {
		t.Fatal(err)
	}
	if r.Stage != report.Proving || len(r.Answers) != 2 {
		t.Errorf("guest report didn't move to proofs after two answers: %+v", r)
	}
	if _, err := d.Answer("c", "u", "extra"); !errors.Is(err, report.ErrWrongStage) {
		t.Errorf("wrong error for extra answer: %v", err)
	}
}

func TestSeparateReporters(t *testing.T) {
	d := report.NewDesk(report.Options{})
	defer d.Close()
	if _, err := d.Open("g", "c", "u"); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Open("g", "c", "v"); err != nil {
		t.Errorf("other user couldn't open: %v", err)
	}
	if _, err := d.Open("g", "d", "u"); err != nil {
		t.Errorf("same user couldn't open in other channel: %v", err)
	}
	if _, err := d.Choose("c", "w", report.Staff); !errors.Is(err, report.ErrNoReport) {
		t.Errorf("wrong error for stranger: %v", err)
	}
}

func TestCancel(t *testing.T) {
	d := report.NewDesk(report.Options{})
	defer d.Close()
	d.Open("g", "c", "u")
	r, err := d.Cancel("c", "u")
	if err != nil {
		t.Fatal(err)
	}
	if r.Stage != report.Cancelled || r.Next() != "❌ | Cancelled report" {
		t.Errorf("wrong cancelled report: %+v", r)
	}
	if _, err := d.Cancel("c", "u"); !errors.Is(err, report.ErrNoReport) {
		t.Errorf("wrong error cancelling twice: %v", err)
	}
}

func TestIsCancel(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"cancel", true},
		{" Cancel ", true},
		{"-cancel", true},
		{"!cancel", false},
		{"cancel please", false},
	}
	for _, c := range cases {
		if got := report.IsCancel(c.text, "-"); got != c.want {
			t.Errorf("IsCancel(%q): want %t, got %t", c.text, c.want, got)
		}
	}
}

func TestTimeout(t *testing.T) {
	expired := make(chan report.Report, 1)
	d := report.NewDesk(report.Options{
		Expired: func(r report.Report) { expired <- r },
		Choose:  10 * time.Millisecond,
		Answer:  time.Hour,
	})
	defer d.Close()
	d.Open("g", "c", "u")
	select {
	case r := <-expired:
		if r.Stage != report.TimedOut || r.Reporter != "u" {
			t.Errorf("wrong expired report: %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("report never timed out")
	}
	if _, ok := d.Get("c", "u"); ok {
		t.Errorf("timed out report still open")
	}

	// Moving to the next step replaces the deadline.
	d.Open("g", "c", "v")
	if _, err := d.Choose("c", "v", report.Guest); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, ok := d.Get("c", "v"); !ok {
		t.Errorf("report timed out on the old deadline")
	}
}

func TestProofExtendsDeadline(t *testing.T) {
	expired := make(chan report.Report, 1)
	d := report.NewDesk(report.Options{
		Expired: func(r report.Report) { expired <- r },
		Proof:   300 * time.Millisecond,
	})
	defer d.Close()
	d.Open("g", "c", "u")
	d.Choose("c", "u", report.Guest)
	d.Answer("c", "u", "kita")
	if r, _ := d.Answer("c", "u", "griefing"); r.Stage != report.Proving {
		t.Fatalf("wrong stage after answers: %v", r.Stage)
	}
	time.Sleep(200 * time.Millisecond)
	// A message without proof leaves the deadline alone.
	if _, n, err := d.Prove("c", "u", "one moment", nil); err != nil || n != 0 {
		t.Fatalf("wrong result for message without proof: %d %v", n, err)
	}
	if _, _, err := d.Prove("c", "u", "https://example.com/clip.mp4", nil); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if _, ok := d.Get("c", "u"); !ok {
		t.Fatalf("report timed out on the deadline from before the proof")
	}
	select {
	case r := <-expired:
		if r.Stage != report.TimedOut || len(r.Proofs) != 1 {
			t.Errorf("wrong expired report: %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("report never timed out after the last proof")
	}
}
