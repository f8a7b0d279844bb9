package azcli

import (
	"context"
	"strings"
	"testing"
)

const whatIfOutput = `{
  "changes": [
    {"resourceId": "/subscriptions/s/resourceGroups/rg/providers/Microsoft.Web/sites/pay-api", "changeType": "Modify"},
    {"resourceId": "/subscriptions/s/resourceGroups/rg/providers/Microsoft.Storage/storageAccounts/payprodst", "changeType": "NoChange"},
    {"resourceId": "/subscriptions/s/resourceGroups/rg/providers/Microsoft.ServiceBus/namespaces/pay-bus", "changeType": "Ignore"},
    {"resourceId": "/subscriptions/s/resourceGroups/rg/providers/Microsoft.Web/serverFarms/pay-plan", "changeType": "Create"}
  ]
}`

func TestWhatIf(t *testing.T) {
	runner := &fakeRunner{stdout: whatIfOutput}
	client := newTestClient(runner)

	report, err := client.WhatIf(context.Background(), validTarget())
	if err != nil {
		t.Fatalf("WhatIf() error = %v", err)
	}

	if len(report.Changes) != 4 {
		t.Fatalf("Changes = %d, want 4", len(report.Changes))
	}
	if report.InSync() {
		t.Error("InSync() = true with pending modifications")
	}

	drifted := report.Drifted()
	if len(drifted) != 2 {
		t.Fatalf("Drifted() = %d changes, want 2", len(drifted))
	}
	if drifted[0].ChangeType != "Modify" || drifted[1].ChangeType != "Create" {
		t.Errorf("Drifted() = %+v, want the Modify and Create entries", drifted)
	}

	call := strings.Join(runner.lastCall(), " ")
	if !strings.Contains(call, "what-if") {
		t.Errorf("CLI call is not a what-if: %s", call)
	}
	if !strings.Contains(call, "--no-pretty-print") {
		t.Errorf("what-if call is missing --no-pretty-print: %s", call)
	}
}

func TestWhatIfInSync(t *testing.T) {
	runner := &fakeRunner{stdout: `{"changes": [{"resourceId": "/s/r", "changeType": "NoChange"}]}`}
	client := newTestClient(runner)

	report, err := client.WhatIf(context.Background(), validTarget())
	if err != nil {
		t.Fatalf("WhatIf() error = %v", err)
	}
	if !report.InSync() {
		t.Error("InSync() = false with only NoChange entries")
	}
}

func TestWhatIfCLIFailure(t *testing.T) {
	runner := &fakeRunner{stderr: "ERROR: AuthorizationFailed: no access\nsecond line", err: exitError(t)}
	client := newTestClient(runner)

	_, err := client.WhatIf(context.Background(), validTarget())
	if err == nil {
		t.Fatal("WhatIf() succeeded on a failing CLI call")
	}
	if !strings.Contains(err.Error(), "AuthorizationFailed") {
		t.Errorf("error %q does not carry the diagnostic lead", err)
	}
	if strings.Contains(err.Error(), "second line") {
		t.Errorf("error %q carries more than the leading line", err)
	}
}

func TestWhatIfBadJSON(t *testing.T) {
	runner := &fakeRunner{stdout: "not json"}
	client := newTestClient(runner)

	if _, err := client.WhatIf(context.Background(), validTarget()); err == nil {
		t.Fatal("WhatIf() succeeded on unparseable output")
	}
}

func TestFirstDiagnosticLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ERROR: bad\ndetail", "ERROR: bad"},
		{"\n\n  leading blanks\nrest", "leading blanks"},
		{"", "no diagnostic output"},
	}
	for _, tt := range tests {
		if got := firstDiagnosticLine(tt.in); got != tt.want {
			t.Errorf("firstDiagnosticLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
