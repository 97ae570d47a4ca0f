package datocms

import (
	"fmt"
	"strings"
)

// formatSkills groups skills by category, one "Category: a, b, c" line per
// category in first-seen order.
func formatSkills(skills []skill) string {
	order := make([]string, 0, len(skills))
	byCategory := make(map[string][]string)
	for _, s := range skills {
		category := s.Category
		if category == "" {
			category = "Uncategorized"
		}
		name := s.Name
		if name == "" {
			name = "Unnamed"
		}
		if _, seen := byCategory[category]; !seen {
			order = append(order, category)
		}
		byCategory[category] = append(byCategory[category], name)
	}

	var b strings.Builder
	for _, category := range order {
		fmt.Fprintf(&b, "%s: %s\n", category, strings.Join(byCategory[category], ", "))
	}
	return strings.TrimSpace(b.String())
}

func formatExperience(timelines []timeline) string {
	blocks := make([]string, 0, len(timelines))
	for _, t := range timelines {
		if t.TimelineType != "work" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf(
			"Company: %s\nTitle: %s\nSummary: %s\nMain Tech Stack: %s\nDuration: %s",
			t.Name, t.Title, t.SummaryPoints, t.TechStack, t.DateRange))
	}
	return strings.Join(blocks, "\n\n")
}

func formatEducation(timelines []timeline) string {
	blocks := make([]string, 0, len(timelines))
	for _, t := range timelines {
		if t.TimelineType != "education" {
			continue
		}
		summary := t.SummaryPoints
		if summary == "" {
			summary = "NA"
		}
		blocks = append(blocks, fmt.Sprintf(
			"University/School: %s\nTitle: %s\nSummary: %s\nDuration: %s",
			t.Name, t.Title, summary, t.DateRange))
	}
	return strings.Join(blocks, "\n\n")
}

func formatProjects(projects []project) string {
	blocks := make([]string, 0, len(projects))
	for _, p := range projects {
		link := p.Link
		if link == "" {
			link = "Not available publicly"
		}
		blocks = append(blocks, fmt.Sprintf(
			"Name: %s\nDescription: %s\nTechnologies used: %s\nLink: %s",
			p.Title, p.Description, p.TechUsed, link))
	}
	return strings.Join(blocks, "\n\n")
}

func formatCertifications(certs []certification) string {
	blocks := make([]string, 0, len(certs))
	for _, c := range certs {
		blocks = append(blocks, fmt.Sprintf(
			"Title: %s\nIssuer: %s\nIssue date: %s\nLink: %s",
			c.Title, c.Issuer, c.IssuedDate, c.Link))
	}
	return strings.Join(blocks, "\n\n")
}

func formatContact(c contact) string {
	return fmt.Sprintf("Email: %s\nLinkedin: %s\nPhone: %s",
		c.Email, c.LinkedinLink, c.PhoneNumber)
}
