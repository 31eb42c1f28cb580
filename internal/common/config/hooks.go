package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/api/resource"
)

// CustomHooks are passed to viper.Unmarshal so that config files may use the same notations as job files.
var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(DecodeHook()),
}

// DecodeHook composes every hook this repository relies on. viper keeps only the last
// DecodeHook option it is given, so the hooks have to be composed into one.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		QuantityDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// BareQuantitySuffix is the unit of a quantity written without one. The only quantities
// configured here are storage sizes, which are given in gigabytes.
const BareQuantitySuffix = "G"

// QuantityDecodeHook parses "400Gi", "400G" or a bare number of gigabytes into a resource.Quantity.
func QuantityDecodeHook() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if t != reflect.TypeOf(resource.Quantity{}) {
			return data, nil
		}
		return resource.ParseQuantity(quantityString(data))
	}
}

func quantityString(data interface{}) string {
	switch v := reflect.ValueOf(data); v.Kind() {
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64) + BareQuantitySuffix
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10) + BareQuantitySuffix
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10) + BareQuantitySuffix
	case reflect.String:
		if isBareNumber(v.String()) {
			return v.String() + BareQuantitySuffix
		}
		return v.String()
	}
	return fmt.Sprintf("%v", data)
}

// isBareNumber reports whether s is a plain decimal with no suffix or exponent.
func isBareNumber(s string) bool {
	digits := strings.TrimLeft(s, "+-")
	return digits != "" && strings.Trim(digits, "0123456789.") == ""
}

// Decode decodes a generic map (e.g. a parsed job file) into result using the custom hooks.
// Unknown keys are rejected so that typos in job files surface immediately.
func Decode(input interface{}, result interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       DecodeHook(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           result,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
