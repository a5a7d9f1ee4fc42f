// Package catalog предоставляет клиент внешнего каталога книг (Open Library).
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const coverURLFormat = "http://covers.openlibrary.org/b/olid/%s-L.jpg"

// Через /api/books редко удаётся найти подходящее издание в первой пачке,
// поэтому ключи изданий проверяются партиями.
const editionBatchSize = 10

// Client инкапсулирует HTTP-взаимодействие с каталогом Open Library.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент каталога по указанному базовому адресу. Публичный
// API отвечает нестабильно, поэтому запросы выполняются с повторами.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 3 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

// SearchResult описывает одну работу из результатов поиска каталога.
type SearchResult struct {
	WorkKey     string
	Title       string
	Author      string
	EditionKeys []string
}

type searchResponse struct {
	Docs []struct {
		Key        string   `json:"key"`
		Title      string   `json:"title"`
		AuthorName []string `json:"author_name"`
		EditionKey []string `json:"edition_key"`
	} `json:"docs"`
}

// Search ищет работы по названию, автору и ISBN. Пустые параметры не
// участвуют в запросе.
func (c *Client) Search(ctx context.Context, title, author, isbn string, limit int) ([]SearchResult, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("catalog client not configured")
	}

	params := url.Values{}
	if title != "" {
		params.Set("title", title)
	}
	if author != "" {
		params.Set("author", author)
	}
	if isbn != "" {
		params.Set("isbn", isbn)
	}

	reqURL := c.baseURL + "/search.json?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if limit <= 0 || limit > len(parsed.Docs) {
		limit = len(parsed.Docs)
	}

	res := make([]SearchResult, 0, limit)
	for _, doc := range parsed.Docs[:limit] {
		r := SearchResult{
			Title:       doc.Title,
			EditionKeys: doc.EditionKey,
		}
		// Ключ работы приходит в виде "/works/OL27448W".
		parts := strings.Split(doc.Key, "/")
		r.WorkKey = parts[len(parts)-1]
		if len(doc.AuthorName) > 0 {
			r.Author = doc.AuthorName[0]
		}
		if r.Title == "" {
			r.Title = "Unknown Title"
		}
		if r.Author == "" {
			r.Author = "Unknown Author"
		}
		res = append(res, r)
	}

	return res, nil
}

// Edition описывает печатное издание, выбранное для карточки книги.
type Edition struct {
	Key      string
	ISBN13   string
	CoverURL string
}

type editionDetails struct {
	Details struct {
		Languages []struct {
			Key string `json:"key"`
		} `json:"languages"`
		Covers []int    `json:"covers"`
		ISBN13 []string `json:"isbn_13"`
	} `json:"details"`
}

// ResolveEdition перебирает ключи изданий партиями и возвращает первое
// англоязычное издание с ISBN-13 и обложкой. Если подходящего издания нет,
// возвращается nil: карточка книги останется без издания и обложки.
func (c *Client) ResolveEdition(ctx context.Context, editionKeys []string) (*Edition, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("catalog client not configured")
	}

	for start := 0; start < len(editionKeys); start += editionBatchSize {
		end := start + editionBatchSize
		if end > len(editionKeys) {
			end = len(editionKeys)
		}

		batch, err := c.editionBatch(ctx, editionKeys[start:end])
		if err != nil {
			return nil, err
		}

		for _, key := range editionKeys[start:end] {
			details, ok := batch[key]
			if !ok {
				continue
			}
			d := details.Details
			if len(d.Languages) != 1 || d.Languages[0].Key != "/languages/eng" {
				continue
			}
			if len(d.ISBN13) == 0 || len(d.Covers) == 0 {
				continue
			}

			isbn := strings.NewReplacer("-", "", " ", "").Replace(d.ISBN13[0])
			return &Edition{
				Key:      key,
				ISBN13:   isbn,
				CoverURL: fmt.Sprintf(coverURLFormat, key),
			}, nil
		}
	}

	return nil, nil
}

func (c *Client) editionBatch(ctx context.Context, keys []string) (map[string]editionDetails, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("jscmd", "details")
	params.Set("bibkeys", strings.Join(keys, ","))

	reqURL := c.baseURL + "/api/books?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var parsed map[string]editionDetails
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return parsed, nil
}
