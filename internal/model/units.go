package model

import (
	"fmt"
	"strings"
)

// TempUnit is the display unit for temperatures. Readings are always
// stored in Celsius and converted only for presentation.
type TempUnit string

const (
	Celsius    TempUnit = "c"
	Fahrenheit TempUnit = "f"
	Kelvin     TempUnit = "k"
)

// ParseTempUnit accepts c/f/k and the full unit names.
func ParseTempUnit(s string) (TempUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "c", "celsius":
		return Celsius, nil
	case "f", "fahrenheit":
		return Fahrenheit, nil
	case "k", "kelvin":
		return Kelvin, nil
	}
	return "", fmt.Errorf("unknown temperature unit %q (want c, f or k)", s)
}

// Convert turns a Celsius reading into u.
func (u TempUnit) Convert(celsius float64) float64 {
	switch u {
	case Fahrenheit:
		return celsius*9/5 + 32
	case Kelvin:
		return celsius + 273.15
	default:
		return celsius
	}
}

// Symbol is the suffix shown after a converted value.
func (u TempUnit) Symbol() string {
	switch u {
	case Fahrenheit:
		return "°F"
	case Kelvin:
		return "K"
	default:
		return "°C"
	}
}
