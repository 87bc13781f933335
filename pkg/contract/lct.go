package contract

import (
	"fmt"

	"golang.org/x/text/cases"
)

// LctCode: 模拟器使用的规范地类编码（稳定整数，跨版本不变）。
type LctCode int

const (
	WaterQuarry LctCode = iota
	Burnt
	Wheat
	DAL
	Shrubland
	Pine
	TransForest
	Deciduous
	Oak

	numLct
)

type lctInfo struct {
	alias string
}

// lctTable: 编码 → 别名。键控数组字面量：重复键无法编译；
// 下方两条数组长度断言保证条目数与枚举数一致。
var lctTable = [...]lctInfo{
	WaterQuarry: {alias: "WaterQuarry"},
	Burnt:       {alias: "Burnt"},
	Wheat:       {alias: "Wheat"},
	DAL:         {alias: "DAL"},
	Shrubland:   {alias: "Shrubland"},
	Pine:        {alias: "Pine"},
	TransForest: {alias: "TransForest"},
	Deciduous:   {alias: "Deciduous"},
	Oak:         {alias: "Oak"},
}

var (
	_ [len(lctTable) - int(numLct)]struct{}
	_ [int(numLct) - len(lctTable)]struct{}
)

var (
	fold       = cases.Fold()
	aliasIndex = buildAliasIndex()
)

func buildAliasIndex() map[string]LctCode {
	m := make(map[string]LctCode, len(lctTable))
	for i, info := range lctTable {
		if info.alias == "" {
			panic(fmt.Sprintf("contract: lct code %d has no alias", i))
		}
		k := fold.String(info.alias)
		if prev, dup := m[k]; dup {
			panic(fmt.Sprintf("contract: alias %q shared by codes %d and %d", info.alias, prev, i))
		}
		m[k] = LctCode(i)
	}
	return m
}

// AllLct 按编码升序返回全部规范地类。
func AllLct() []LctCode {
	out := make([]LctCode, 0, len(lctTable))
	for i := range lctTable {
		out = append(out, LctCode(i))
	}
	return out
}

// Valid 判断编码是否位于枚举内。
func (c LctCode) Valid() bool { return c >= 0 && c < numLct }

// Alias 返回与模拟器一致的别名；越界编码返回空串。
func (c LctCode) Alias() string {
	if !c.Valid() {
		return ""
	}
	return lctTable[c].alias
}

func (c LctCode) String() string {
	if !c.Valid() {
		return fmt.Sprintf("LctCode(%d)", int(c))
	}
	return lctTable[c].alias
}

// LctFromAlias 按别名查找编码（大小写折叠比较）。
func LctFromAlias(alias string) (LctCode, error) {
	if c, ok := aliasIndex[fold.String(alias)]; ok {
		return c, nil
	}
	aliases := make([]string, 0, len(lctTable))
	for _, info := range lctTable {
		aliases = append(aliases, info.alias)
	}
	return 0, fmt.Errorf("%w: unknown land-cover alias %q%s", ErrInvalidInput, alias, didYouMean(alias, aliases))
}
