package notifier

import (
	"context"
	"errors"
	"testing"
)

type mockNotifier struct {
	alerts      []SuspectAlert
	sendErr     error
	closeErr    error
	closeCalled bool
}

func (m *mockNotifier) SendSuspectAlert(_ context.Context, alert SuspectAlert) error {
	m.alerts = append(m.alerts, alert)
	return m.sendErr
}

func (m *mockNotifier) Close() error {
	m.closeCalled = true
	return m.closeErr
}

func TestNewMultiNotifier_FiltersNil(t *testing.T) {
	mn := NewMultiNotifier(&mockNotifier{}, nil, &mockNotifier{}, nil)

	if mn.Count() != 2 {
		t.Errorf("expected 2 notifiers, got %d", mn.Count())
	}
}

func TestNewMultiNotifier_Empty(t *testing.T) {
	mn := NewMultiNotifier()

	if mn.Count() != 0 {
		t.Errorf("expected 0 notifiers, got %d", mn.Count())
	}
	if err := mn.SendSuspectAlert(context.Background(), SuspectAlert{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMultiNotifier_SendSuspectAlert(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{}
	mn := NewMultiNotifier(mock1, mock2)

	alert := SuspectAlert{
		TraderAddress: "0xabc",
		MarketTitle:   "Test Market",
		RiskScore:     77,
		Severity:      "high",
	}

	if err := mn.SendSuspectAlert(context.Background(), alert); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock1.alerts) != 1 || len(mock2.alerts) != 1 {
		t.Fatalf("expected each notifier to get 1 alert, got %d and %d", len(mock1.alerts), len(mock2.alerts))
	}
	if mock1.alerts[0].RiskScore != 77 {
		t.Errorf("unexpected risk score: %d", mock1.alerts[0].RiskScore)
	}
}

func TestMultiNotifier_FailureDoesNotStopOthers(t *testing.T) {
	boom := errors.New("boom")
	failing := &mockNotifier{sendErr: boom}
	healthy := &mockNotifier{}
	mn := NewMultiNotifier(failing, healthy)

	err := mn.SendSuspectAlert(context.Background(), SuspectAlert{})
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error to contain boom, got %v", err)
	}
	if len(healthy.alerts) != 1 {
		t.Error("expected healthy notifier to still receive the alert")
	}
}

func TestMultiNotifier_Close(t *testing.T) {
	closeErr := errors.New("close failed")
	mock1 := &mockNotifier{closeErr: closeErr}
	mock2 := &mockNotifier{}
	mn := NewMultiNotifier(mock1, mock2)

	err := mn.Close()

	if !mock1.closeCalled || !mock2.closeCalled {
		t.Error("expected every notifier to be closed")
	}
	if !errors.Is(err, closeErr) {
		t.Errorf("expected close error, got %v", err)
	}
}
