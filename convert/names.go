package convert

import (
	"regexp"
	"strings"
)

// wrapperPrefixes are stripped, in order, before any rule is applied.
// _orig_mod. is added by torch.compile.
var wrapperPrefixes = []string{"_orig_mod.", "transformer."}

type nameRule struct {
	pattern *regexp.Regexp
	replace string
}

func exact(name, replace string) nameRule {
	return nameRule{regexp.MustCompile("^" + regexp.QuoteMeta(name) + "$"), replace}
}

func indexed(pattern, replace string) nameRule {
	return nameRule{regexp.MustCompile("^" + pattern + "$"), replace}
}

// blockRules expands every block sub-component and parameter kind into
// its own rule.
func blockRules() []nameRule {
	var rules []nameRule
	for _, c := range []struct {
		source, target string
		weight         string
	}{
		{"ln_1", "ln_1", "g"},
		{"attn.c_attn", "attn/c_attn", "w"},
		{"attn.c_proj", "attn/c_proj", "w"},
		{"ln_2", "ln_2", "g"},
		{"mlp.c_fc", "mlp/c_fc", "w"},
		{"mlp.c_proj", "mlp/c_proj", "w"},
	} {
		for _, kind := range []struct{ source, target string }{
			{"weight", c.weight},
			{"bias", "b"},
		} {
			rules = append(rules, indexed(
				`h\.(\d+)\.`+regexp.QuoteMeta(c.source+"."+kind.source),
				"model/h${1}/"+c.target+"/"+kind.target,
			))
		}
	}

	return rules
}

// nameRules are evaluated in order; the first match wins.
var nameRules = func() []nameRule {
	rules := []nameRule{
		exact("lm_head.weight", "model/lm_head/0"),
		exact("ln_f.weight", "model/ln_f/g"),
		exact("ln_f.bias", "model/ln_f/b"),
		exact("wte.weight", "model/wte/0"),
		exact("wpe.weight", "model/wpe"),
		indexed(`wtes\.(\d+)\.weight`, "model/wte/${1}"),
	}

	rules = append(rules, blockRules()...)
	return append(rules, indexed(`lm_heads\.(\d+)\.weight`, "model/lm_head/${1}"))
}()

func stripWrapper(name string) string {
	for _, prefix := range wrapperPrefixes {
		name = strings.TrimPrefix(name, prefix)
	}
	return name
}

// normalizeName maps a GPT parameter name to its flat ggml name. ok is
// false when no rule matches, in which case the name is returned as is.
func normalizeName(name string) (string, bool) {
	stripped := stripWrapper(name)
	for _, rule := range nameRules {
		if m := rule.pattern.FindStringSubmatchIndex(stripped); m != nil {
			return string(rule.pattern.ExpandString(nil, rule.replace, stripped, m)), true
		}
	}

	return name, false
}
