package domain

import "testing"

func TestMessageRangeValidate(t *testing.T) {
	cases := []struct {
		r       MessageRange
		wantErr bool
	}{
		{r: MessageRange{StartID: 1, EndID: 0}},
		{r: MessageRange{StartID: 1, EndID: 1}},
		{r: MessageRange{StartID: 5, EndID: 10}},
		{r: MessageRange{StartID: 0, EndID: 5}, wantErr: true},
		{r: MessageRange{StartID: 10, EndID: 5}, wantErr: true},
		{r: MessageRange{StartID: 1, EndID: -1}, wantErr: true},
	}
	for _, tc := range cases {
		err := tc.r.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("ожидали ошибку для диапазона %+v", tc.r)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("не ожидали ошибку для диапазона %+v: %v", tc.r, err)
		}
	}
}

func TestRunKey(t *testing.T) {
	src, err := ParseChannelRef("@golang")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	r := MessageRange{StartID: 100, EndID: 200}
	if RunKey("s", src, r) != RunKey("s", src, r) {
		t.Fatal("одинаковая конфигурация должна давать одинаковый ключ")
	}
	other := MessageRange{StartID: 100, EndID: 0}
	if RunKey("s", src, r) == RunKey("s", src, other) {
		t.Fatal("разные диапазоны не должны давать один ключ")
	}
	if RunKey("a", src, r) == RunKey("b", src, r) {
		t.Fatal("разные сессии не должны давать один ключ")
	}
}
