package discovery

import (
	"encoding/json"

	"gorm.io/datatypes"
)

func jsonValue(m map[string]any) datatypes.JSON {
	if m == nil {
		return datatypes.JSON([]byte(`{}`))
	}
	b, err := json.Marshal(m)
	if err != nil {
		return datatypes.JSON([]byte(`{}`))
	}
	return datatypes.JSON(b)
}
