// Package main runs end-to-end scenarios of the booking dialogue against a
// running API through the admin simulate endpoint.
//
// Usage:
//
//	ADMIN_JWT_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go            # runs all
//	ADMIN_JWT_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go book-slot  # runs one
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	apiBase string
	token   string
	client  = &http.Client{Timeout: 30 * time.Second}
)

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
	name   string
	phone  string
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...any) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

// say sends one patient message and returns the reply.
func (t *T) say(text string) string {
	body, _ := json.Marshal(map[string]string{"from": t.phone, "body": text})
	req, _ := http.NewRequest(http.MethodPost, apiBase+"/admin/conversations/simulate", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.fatalf("simulate %q: %v", text, err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.fatalf("simulate %q returned %d: %s", text, resp.StatusCode, string(raw))
		return ""
	}
	var out struct {
		Reply string `json:"reply"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.fatalf("decode reply: %v", err)
		return ""
	}
	fmt.Printf("    > %s\n    < %s\n", text, strings.ReplaceAll(out.Reply, "\n", "\n      "))
	return out.Reply
}

// onboard walks a new patient through the profile questions.
func (t *T) onboard() bool {
	steps := []struct{ text, want string }{
		{"hi", "full name"},
		{"Asha Rao", "How old"},
		{"34", "sex"},
		{"Female", "email"},
		{"asha@example.com", "profile is complete"},
	}
	for _, s := range steps {
		if !containsAny(t.say(s.text), s.want) {
			t.fatalf("onboarding stalled at %q", s.text)
			return false
		}
	}
	return true
}

func seedSlots() error {
	req, _ := http.NewRequest(http.MethodPost, apiBase+"/admin/slots/seed", strings.NewReader(`{"days":14}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("seed returned %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

func generateJWT(secret string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  "e2e",
		"role": "admin",
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// randomPhone keeps scenarios independent of each other and of earlier runs.
func randomPhone() string {
	return fmt.Sprintf("+1555%07d", rand.Intn(10_000_000))
}

func scenarioOnboarding(t *T) {
	t.check("profile completed", t.onboard())
	t.check("returning patient is greeted by name", containsAny(t.say("hello"), "Asha"))
}

func scenarioBookSlot(t *T) {
	if !t.onboard() {
		return
	}
	offer := t.say("book appointment")
	t.check("offers numbered times", containsAny(offer, "1️⃣"))
	reply := t.say("1")
	if containsAny(reply, "YES to confirm") {
		reply = t.say("yes")
	}
	t.check("booking confirmed", containsAny(reply, "Confirmed"))
}

func scenarioCancel(t *T) {
	if !t.onboard() {
		return
	}
	t.check("nothing to cancel yet", containsAny(t.say("cancel"), "no upcoming appointments"))
	t.say("book appointment")
	if reply := t.say("1"); containsAny(reply, "YES to confirm") {
		t.say("yes")
	}
	list := t.say("cancel my appointment")
	t.check("lists appointments", containsAny(list, "Which one would you like to cancel"))
	t.check("cancelled", containsAny(t.say("1"), "successfully cancelled"))
}

func scenarioReschedule(t *T) {
	if !t.onboard() {
		return
	}
	t.say("book appointment")
	if reply := t.say("1"); containsAny(reply, "YES to confirm") {
		t.say("yes")
	}
	t.check("lists appointments", containsAny(t.say("reschedule"), "Which one would you like to reschedule"))
	t.check("offers new times", containsAny(t.say("1"), "new time"))
	reply := t.say("2")
	if containsAny(reply, "YES to confirm") {
		reply = t.say("yes")
	}
	t.check("rescheduled", containsAny(reply, "Rescheduled"))
}

func scenarioInvalidChoice(t *T) {
	if !t.onboard() {
		return
	}
	t.say("book appointment")
	t.check("out of range choice is rejected", containsAny(t.say("42"), "Please reply with a number between 1 and"))
	t.check("stray number outside a list", containsAny(t.say("hi"), "Hello"))
}

func scenarioOutOfScope(t *T) {
	if !t.onboard() {
		return
	}
	t.check("medical questions deflected", containsAny(t.say("what dose of minoxidil should I take?"), "book", "didn't understand"))
}

func main() {
	apiBase = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	secret := os.Getenv("ADMIN_JWT_SECRET")
	if apiBase == "" || secret == "" {
		fmt.Fprintln(os.Stderr, "ERROR: API_BASE_URL and ADMIN_JWT_SECRET required")
		os.Exit(1)
	}
	var err error
	if token, err = generateJWT(secret); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: sign token: %v\n", err)
		os.Exit(1)
	}
	if err := seedSlots(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: seed slots: %v\n", err)
		os.Exit(1)
	}

	scenarios := []scenario{
		{"onboarding", scenarioOnboarding},
		{"book-slot", scenarioBookSlot},
		{"cancel", scenarioCancel},
		{"reschedule", scenarioReschedule},
		{"invalid-choice", scenarioInvalidChoice},
		{"out-of-scope", scenarioOutOfScope},
	}

	// Filter by name if argument provided
	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}

	totalPassed := 0
	totalFailed := 0
	scenarioResults := make([]string, 0)

	for _, s := range scenarios {
		if filter != "" && s.Name != filter {
			continue
		}

		fmt.Printf("\n========================================\n")
		fmt.Printf("SCENARIO: %s\n", s.Name)
		fmt.Printf("========================================\n")

		t := &T{name: s.Name, phone: randomPhone()}
		s.Fn(t)

		totalPassed += t.passed
		totalFailed += t.failed

		status := "✅"
		if t.failed > 0 {
			status = "❌"
		}
		scenarioResults = append(scenarioResults, fmt.Sprintf("  %s %s (%d passed, %d failed)", status, s.Name, t.passed, t.failed))
	}

	fmt.Printf("\n========================================\n")
	fmt.Println("SUMMARY")
	fmt.Printf("========================================\n")
	for _, r := range scenarioResults {
		fmt.Println(r)
	}
	fmt.Printf("\nTotal: %d passed, %d failed\n", totalPassed, totalFailed)

	if totalFailed > 0 {
		fmt.Println("\n❌ SOME TESTS FAILED")
		os.Exit(1)
	}
	fmt.Println("\n✅ ALL TESTS PASSED")
}
