// Package preprocess rewrites theme files before upload: YAML section
// schemas become JSON, source map comments are shielded from Liquid,
// compiled assets gain a .liquid extension and nested snippets are
// flattened.
package preprocess

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agentworkforce/themesync/internal/assetkey"
)

var (
	schemaPattern       = regexp.MustCompile(`(?s)\{% schema %\}(.*?)\{% endschema %\}`)
	sourceMapCSSPattern = regexp.MustCompile(`(.*?[/*]{2,}# sourceMappingURL=)(.*?)([/*]{2})`)
	sourceMapJSPattern  = regexp.MustCompile(`(.*?[/*]{2,}# sourceMappingURL=)(.*?)`)
)

const (
	sourceMapCSSReplace = `{% raw %}${1}{% endraw %}${2}{% raw %}${3}{% endraw %}`
	sourceMapJSReplace  = `{% raw %}${1}{% endraw %}${2}`
)

type Options struct {
	YAMLSchema bool
	SourceMaps bool
	LiquidExt  bool
	Flatten    bool
}

func (o Options) Enabled() bool {
	return o.YAMLSchema || o.SourceMaps || o.LiquidExt || o.Flatten
}

// Apply runs the enabled transforms on one file. filePath uses forward or
// OS separators and must contain a theme category directory for the path
// transforms to apply.
func (o Options) Apply(filePath string, content []byte) (string, []byte, error) {
	filePath = strings.ReplaceAll(filePath, "\\", "/")
	ext := strings.ToLower(path.Ext(filePath))
	if o.YAMLSchema && ext == ".liquid" {
		converted, err := ReplaceYAMLSchema(content)
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", filePath, err)
		}
		content = converted
	}
	if o.SourceMaps {
		switch ext {
		case ".css", ".scss":
			content = EscapeSourceMapCSS(content)
		case ".js":
			content = EscapeSourceMapJS(content)
		}
	}
	prefix, category, rest, ok := splitCategory(filePath)
	if !ok {
		return filePath, content, nil
	}
	if o.Flatten {
		rest = Flatten(rest)
	}
	if o.LiquidExt && category == "assets" && (ext == ".css" || ext == ".js") {
		rest = AppendLiquidExt(rest)
	}
	return prefix + category + "/" + rest, content, nil
}

// ReplaceYAMLSchema converts the body of every {% schema %} block from
// YAML to four-space indented JSON. Blocks already holding JSON parse as
// YAML and come out unchanged in meaning.
func ReplaceYAMLSchema(content []byte) ([]byte, error) {
	var firstErr error
	out := schemaPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		groups := schemaPattern.FindSubmatch(match)
		converted, err := yamlToJSON(groups[1])
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("schema block: %w", err)
			}
			return match
		}
		var buf bytes.Buffer
		buf.WriteString("{% schema %}\n")
		buf.Write(converted)
		buf.WriteString("\n{% endschema %}")
		return buf.Bytes()
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func EscapeSourceMapCSS(content []byte) []byte {
	return sourceMapCSSPattern.ReplaceAll(content, []byte(sourceMapCSSReplace))
}

func EscapeSourceMapJS(content []byte) []byte {
	return sourceMapJSPattern.ReplaceAll(content, []byte(sourceMapJSReplace))
}

// LiquidSourceMappingURL is the Liquid expression resolving the map file
// for an asset.
func LiquidSourceMappingURL(relative string) string {
	return `{{"` + relative + `.map" | asset_url }}`
}

// AppendLiquidExt turns theme.css into theme.scss.liquid and app.js into
// app.js.liquid. Source maps keep their name.
func AppendLiquidExt(name string) string {
	ext := path.Ext(name)
	if ext == ".map" {
		return name
	}
	base := strings.TrimSuffix(name, ext)
	if ext == ".css" {
		ext = ".scss"
	}
	return base + ext + ".liquid"
}

// Flatten folds nested directories into the file name:
// cards/product.liquid becomes cards_product.liquid.
func Flatten(name string) string {
	dir, base := path.Split(name)
	dir = strings.Trim(dir, "/")
	if dir == "" || dir == "." {
		return name
	}
	return strings.ReplaceAll(dir, "/", "_") + "_" + base
}

func splitCategory(filePath string) (prefix, category, rest string, ok bool) {
	segments := strings.Split(filePath, "/")
	for i := 0; i < len(segments)-1; i++ {
		for _, candidate := range assetkey.Categories {
			if strings.EqualFold(segments[i], candidate) {
				prefix = strings.Join(segments[:i], "/")
				if prefix != "" {
					prefix += "/"
				}
				return prefix, segments[i], strings.Join(segments[i+1:], "/"), true
			}
		}
	}
	return "", "", "", false
}

// yamlToJSON keeps mapping key order, which decoding into a Go map would
// lose.
func yamlToJSON(src []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, err
	}
	var compact bytes.Buffer
	if len(doc.Content) == 0 {
		compact.WriteString("null")
	} else if err := writeNode(&compact, doc.Content[0]); err != nil {
		return nil, err
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, compact.Bytes(), "", "    "); err != nil {
		return nil, err
	}
	return indented.Bytes(), nil
}

func writeNode(buf *bytes.Buffer, node *yaml.Node) error {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeNode(buf, node.Content[0])
	case yaml.AliasNode:
		return writeNode(buf, node.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(node.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeScalar(buf, node.Content[i].Value); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeNode(buf, node.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, child := range node.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeNode(buf, child); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		var value any
		if err := node.Decode(&value); err != nil {
			return err
		}
		return writeScalar(buf, value)
	}
}

func writeScalar(buf *bytes.Buffer, value any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return err
	}
	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}
