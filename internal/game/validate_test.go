package game

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateSave(t *testing.T) {
	catalog := []BusinessDefinition{{ID: 1, Name: "Lemonade Stand", Cooldown: 1}, {ID: 2, Name: "Car Wash", Cooldown: 6}}
	ok := SaveInput{
		UserID:  "u1",
		Capital: decimal.NewFromInt(50),
		Businesses: []Progress{
			{BusinessID: 1, CurrentLevel: 3, IsManaged: true},
			{BusinessID: 2, CurrentLevel: 0},
		},
	}
	if err := ValidateSave(ok, catalog); err != nil {
		t.Fatalf("expected valid save: %v", err)
	}

	tests := map[string]func(in *SaveInput){
		"missing user":     func(in *SaveInput) { in.UserID = "  " },
		"long user":        func(in *SaveInput) { in.UserID = strings.Repeat("x", maxUserIDLen+1) },
		"negative capital": func(in *SaveInput) { in.Capital = decimal.NewFromInt(-1) },
		"unknown business": func(in *SaveInput) { in.Businesses = []Progress{{BusinessID: 42}} },
		"duplicate":        func(in *SaveInput) { in.Businesses = []Progress{{BusinessID: 1}, {BusinessID: 1}} },
		"negative level":   func(in *SaveInput) { in.Businesses = []Progress{{BusinessID: 1, CurrentLevel: -2}} },
	}
	for name, mutate := range tests {
		in := ok
		in.Businesses = append([]Progress(nil), ok.Businesses...)
		mutate(&in)
		if err := ValidateSave(in, catalog); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}
