package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Token is an owned profile-picture NFT.
type Token struct {
	Project     string   `json:"project"`
	Collection  string   `json:"collection"`
	ID          int64    `json:"id"`
	UID         HexBytes `json:"uid"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Image       string   `json:"image"`
	Models      Models   `json:"models"`
}

// Item is a non-pfp inventory entry (fishing rods, equipment, weapons). Kind specific
// attributes are kept as returned by the chain.
type Item struct {
	Project     string          `json:"project"`
	Collection  string          `json:"collection"`
	ID          int64           `json:"id"`
	UID         HexBytes        `json:"uid"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Image       string          `json:"image"`
	Amount      int64           `json:"amount,omitempty"`
	Attributes  json.RawMessage `json:"attributes,omitempty"`
}

// ModelRef is one domain → model URL entry.
type ModelRef struct {
	Domain string `json:"domain"`
	URL    string `json:"url"`
}

// Models is the domain → model URL mapping of a token, in insertion order.
type Models []ModelRef

func (m Models) Domains() []string {
	out := make([]string, len(m))
	for i, ref := range m {
		out[i] = ref.Domain
	}
	return out
}

func (m Models) Get(domain string) (string, bool) {
	for _, ref := range m {
		if ref.Domain == domain {
			return ref.URL, true
		}
	}
	return "", false
}

// With returns a copy of m with domain set to url, keeping the position of an existing key.
func (m Models) With(domain, url string) Models {
	out := append(Models(nil), m...)
	return out.set(domain, url)
}

// MarshalJSON writes the mapping as a JSON object, keys in insertion order.
func (m Models) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ref := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(ref.Domain)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(ref.URL)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts a JSON object (keys kept in document order), an array of
// [domain, url] pairs, or null.
func (m *Models) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var pairs [][2]string
		if err := json.Unmarshal(data, &pairs); err != nil {
			return fmt.Errorf("models: %w", err)
		}
		out := make(Models, 0, len(pairs))
		for _, p := range pairs {
			out = out.set(p[0], p[1])
		}
		*m = out
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("models: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("models: expected object, got %v", tok)
	}
	out := Models{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("models: %w", err)
		}
		key, _ := keyTok.(string)
		var url string
		if err := dec.Decode(&url); err != nil {
			return fmt.Errorf("models[%s]: %w", key, err)
		}
		out = out.set(key, url)
	}
	*m = out
	return nil
}

func (m Models) set(domain, url string) Models {
	for i := range m {
		if m[i].Domain == domain {
			m[i].URL = url
			return m
		}
	}
	return append(m, ModelRef{Domain: domain, URL: url})
}
