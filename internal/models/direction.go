// Package models defines the records the provisioning pipeline reads and
// writes in the relational store.
package models

import (
	"encoding/json"
	"fmt"
)

// Objective is the advertising goal of a direction.
type Objective string

const (
	ObjectiveWhatsApp         Objective = "whatsapp"
	ObjectiveConversions      Objective = "conversions"
	ObjectiveInstagramTraffic Objective = "instagram_traffic"
	ObjectiveSiteLeads        Objective = "site_leads"
	ObjectiveLeadForms        Objective = "lead_forms"
	ObjectiveAppInstalls      Objective = "app_installs"
)

// Objectives lists every supported objective.
var Objectives = []Objective{
	ObjectiveWhatsApp, ObjectiveConversions, ObjectiveInstagramTraffic,
	ObjectiveSiteLeads, ObjectiveLeadForms, ObjectiveAppInstalls,
}

// ParseObjective validates s.
func ParseObjective(s string) (Objective, error) {
	for _, o := range Objectives {
		if string(o) == s {
			return o, nil
		}
	}
	return "", fmt.Errorf("unknown objective %q", s)
}

// Direction is a campaign line: objective, budget, targeting and the
// identifiers the objective needs.
type Direction struct {
	ID               string
	UserAccountID    string
	Name             string
	Objective        Objective
	CampaignID       string
	DailyBudgetCents int64
	// Targeting is the Graph targeting spec, stored as JSON.
	Targeting json.RawMessage

	PageID               string
	InstagramActorID     string
	InstagramUsername    string
	PixelID              string
	ConversionEvent      string // custom_event_type, e.g. LEAD
	LeadFormID           string
	WhatsAppNumber       string
	LegacyWhatsAppNumber string
	SiteURL              string
	AppID                string
	AppStoreURL          string

	Active bool
}

// DefaultSettings are per-direction defaults used when a direction leaves a
// field empty.
type DefaultSettings struct {
	DirectionID    string
	WhatsAppNumber string
	PixelID        string
	WelcomeMessage string
}
