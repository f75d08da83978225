package main

import (
	"fmt"
	"os"
	"strings"
)

const (
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
	colorCyan   = "\033[0;36m"
	colorRed    = "\033[0;31m"
	colorBold   = "\033[1m"
	colorReset  = "\033[0m"
)

// colorize wraps s in color codes when stdout is a terminal.
func colorize(color, s string) string {
	if !isTerminal(os.Stdout) {
		return s
	}
	return color + s + colorReset
}

func printHeader(title string) {
	rule := strings.Repeat("=", 40)
	fmt.Println(colorize(colorBold+colorCyan, rule))
	fmt.Println(colorize(colorBold+colorCyan, "       "+title))
	fmt.Println(colorize(colorBold+colorCyan, rule))
	fmt.Println()
}

func printSuccess(msg string) {
	fmt.Printf("%s %s\n", colorize(colorGreen, "[OK]"), msg)
}

func printInfo(msg string) {
	fmt.Printf("%s %s\n", colorize(colorBlue, "[INFO]"), msg)
}

func printWarn(msg string) {
	fmt.Printf("%s %s\n", colorize(colorYellow, "[WARN]"), msg)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", colorize(colorRed, "[ERROR]"), msg)
}

func printStep(msg string) {
	fmt.Printf("%s %s\n", colorize(colorCyan, ">>>"), msg)
}

// formatUSD formats a dollar amount with cent precision.
func formatUSD(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}
