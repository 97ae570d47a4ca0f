// Package datocms fetches the résumé content from the DatoCMS GraphQL API.
package datocms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fairyhunter13/knowme-ai/internal/config"
	"github.com/fairyhunter13/knowme-ai/internal/domain"
)

// resumeQuery pulls every section used by the prompt in one document.
const resumeQuery = `
query {
    resumeUncompiled {
        text
    }
    allSkills(first: 100, orderBy: order_ASC) {
        name
        category
        description
    }
    allTimelines {
        title
        timelineType
        summaryPoints
        name
        dateRange
        techStack
    }
    allProjects {
        description
        link
        techUsed
        title
    }
    allCertifications {
        issuedDate
        issuer
        link
        title
    }
    contactMe {
        name
        email
        linkedinLink
        phoneNumber
    }
    profilebanner {
        profileSummary
    }
}
`

// Client implements domain.ContentSource against the DatoCMS GraphQL endpoint.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// New constructs a DatoCMS client.
func New(cfg config.Config) *Client {
	return &Client{
		baseURL:    cfg.DatoCMSBaseURL,
		apiToken:   cfg.DatoCMSAPIToken,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type skill struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

type timeline struct {
	Title         string `json:"title"`
	TimelineType  string `json:"timelineType"`
	SummaryPoints string `json:"summaryPoints"`
	Name          string `json:"name"`
	DateRange     string `json:"dateRange"`
	TechStack     string `json:"techStack"`
}

type project struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	TechUsed    string `json:"techUsed"`
	Link        string `json:"link"`
}

type certification struct {
	Title      string `json:"title"`
	Issuer     string `json:"issuer"`
	IssuedDate string `json:"issuedDate"`
	Link       string `json:"link"`
}

type contact struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	LinkedinLink string `json:"linkedinLink"`
	PhoneNumber  string `json:"phoneNumber"`
}

type resumeDocument struct {
	ResumeUncompiled *struct {
		Text string `json:"text"`
	} `json:"resumeUncompiled"`
	AllSkills         []skill         `json:"allSkills"`
	AllTimelines      []timeline      `json:"allTimelines"`
	AllProjects       []project       `json:"allProjects"`
	AllCertifications []certification `json:"allCertifications"`
	ContactMe         *contact        `json:"contactMe"`
	ProfileBanner     *struct {
		ProfileSummary string `json:"profileSummary"`
	} `json:"profilebanner"`
}

// Fetch executes the résumé query and formats the sections for prompt use.
func (c *Client) Fetch(ctx domain.Context) (domain.ResumeProfile, error) {
	doc, err := c.query(ctx, resumeQuery)
	if err != nil {
		return domain.ResumeProfile{}, err
	}

	p := domain.ResumeProfile{
		Skills:         formatSkills(doc.AllSkills),
		Experience:     formatExperience(doc.AllTimelines),
		Projects:       formatProjects(doc.AllProjects),
		Education:      formatEducation(doc.AllTimelines),
		Certifications: formatCertifications(doc.AllCertifications),
		// TODO: source languages from DatoCMS once the model exists there.
		Languages: "English, Hindi, Marathi",
		FetchedAt: time.Now().UTC(),
	}
	if doc.ResumeUncompiled != nil {
		p.ResumeText = doc.ResumeUncompiled.Text
	}
	if doc.ContactMe != nil {
		p.FullName = doc.ContactMe.Name
		p.ContactDetails = formatContact(*doc.ContactMe)
	}
	if doc.ProfileBanner != nil {
		p.Summary = doc.ProfileBanner.ProfileSummary
	}
	return p, nil
}

func (c *Client) query(ctx domain.Context, q string) (*resumeDocument, error) {
	payload, _ := json.Marshal(map[string]string{"query": q})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("datocms request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Error("datocms non-2xx",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)))
		return nil, fmt.Errorf("datocms status %d", resp.StatusCode)
	}

	var out struct {
		Data   *resumeDocument `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("datocms decode: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("datocms graphql error: %s", out.Errors[0].Message)
	}
	if out.Data == nil {
		return nil, fmt.Errorf("datocms empty response")
	}
	return out.Data, nil
}

// Ping probes the endpoint for readiness checks using a trivial query.
func (c *Client) Ping(ctx domain.Context) error {
	payload, _ := json.Marshal(map[string]string{"query": "query { _site { locales } }"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("datocms status %d", resp.StatusCode)
	}
	return nil
}
