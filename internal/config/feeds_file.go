package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FeedSpec は購読するフィード1件の設定。
// Tags はこのフィードの新規エントリに付与する追加タグ。
type FeedSpec struct {
	URL  string   `yaml:"url"`
	Tags []string `yaml:"tags"`
}

// UnmarshalYAML はURLのみの文字列表記と、url/tagsを持つマップ表記の両方を受け付ける。
func (f *FeedSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		f.URL = strings.TrimSpace(node.Value)
		return nil
	}
	type plain FeedSpec
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*f = FeedSpec(p)
	f.URL = strings.TrimSpace(f.URL)
	return nil
}

// TaggerSpec は新規エントリのタグ付けルールの設定。
type TaggerSpec struct {
	FeedURL   string   `yaml:"feed_url"`
	Title     string   `yaml:"title"`
	OlderThan string   `yaml:"older_than"`
	NewerThan string   `yaml:"newer_than"`
	Add       []string `yaml:"add"`
	Remove    []string `yaml:"remove"`
}

// FeedsFile はFEEDS_FILEで指定するYAMLファイルの内容。
//
//	feeds:
//	  - https://example.com/atom.xml
//	  - url: https://example.org/rss
//	    tags: [news]
//	taggers:
//	  - title: "(?i)sponsored"
//	    add: [junk]
//	    remove: [unread]
type FeedsFile struct {
	Feeds   []FeedSpec   `yaml:"feeds"`
	Taggers []TaggerSpec `yaml:"taggers"`
}

// LoadFeedsFile はYAMLのフィード定義ファイルを読み込む。
func LoadFeedsFile(path string) (*FeedsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feeds file: %w", err)
	}
	return ParseFeedsFile(data)
}

// ParseFeedsFile はYAMLのフィード定義を解釈する。URLが空のフィードはエラーとする。
func ParseFeedsFile(data []byte) (*FeedsFile, error) {
	var file FeedsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse feeds file: %w", err)
	}
	for i, f := range file.Feeds {
		if f.URL == "" {
			return nil, fmt.Errorf("feeds[%d]: url is required", i)
		}
	}
	return &file, nil
}
