package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/bardlex/goore/internal/events"
)

func TestKeys(t *testing.T) {
	day := time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC)

	if got := SignerKey("abc"); got != "goore:signer:abc" {
		t.Errorf("SignerKey = %s", got)
	}
	if got := HashrateKey("abc"); got != "goore:hashrate:abc" {
		t.Errorf("HashrateKey = %s", got)
	}
	if got := CounterKey("landed", day); got != "goore:counter:landed:2026-03-04" {
		t.Errorf("CounterKey = %s", got)
	}
}

func TestStatusFields(t *testing.T) {
	solution := events.Solution("s", [32]byte{1}, 12, 400, 2*time.Second)
	fields := StatusFields(solution)
	if fields["last_nonce"] != "12" || fields["last_hashrate"] != "200.00" {
		t.Errorf("solution fields = %v", fields)
	}

	sub := events.New(events.KindSubmission)
	sub.Signature = "sig"
	sub.Bus = 5
	fields = StatusFields(sub)
	if fields["last_signature"] != "sig" || fields["last_bus"] != 5 {
		t.Errorf("submission fields = %v", fields)
	}

	if StatusFields(events.New(events.KindRegistration)) != nil {
		t.Error("registration should not update status")
	}
}

func TestAverageSamples(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   float64
	}{
		{"empty", nil, 0},
		{"two samples", []string{"1:100.000000", "2:300.000000"}, 200},
		{"skips malformed", []string{"garbage", "3:50.000000", "4:x"}, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := averageSamples(tt.values); got != tt.want {
				t.Errorf("averageSamples() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClientRecord(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if testing.Short() || url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}

	client, err := NewClient(DefaultConfig(url))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	signer := "record-test-" + time.Now().Format("150405.000")
	if err := client.Record(ctx, events.Solution(signer, [32]byte{2}, 1, 1000, time.Second)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	status, err := client.GetSignerStatus(ctx, signer)
	if err != nil {
		t.Fatalf("GetSignerStatus() error = %v", err)
	}
	if status["last_nonce"] != "1" {
		t.Errorf("status = %v", status)
	}

	rate, err := client.GetAverageHashrate(ctx, signer, time.Minute)
	if err != nil || rate != 1000 {
		t.Errorf("GetAverageHashrate() = %v, %v", rate, err)
	}
}
