// Package convert builds D-Bus variants with explicit signatures for hint
// and option maps.
package convert

import (
	"reflect"

	"github.com/godbus/dbus/v5"
)

var (
	boolSignature   = dbus.SignatureOfType(reflect.TypeOf(false))
	byteSignature   = dbus.SignatureOfType(reflect.TypeOf(byte(0)))
	stringSignature = dbus.SignatureOfType(reflect.TypeOf(""))
)

func FromBool(input bool) dbus.Variant {
	return dbus.MakeVariantWithSignature(input, boolSignature)
}

func FromByte(input byte) dbus.Variant {
	return dbus.MakeVariantWithSignature(input, byteSignature)
}

func FromString(input string) dbus.Variant {
	return dbus.MakeVariantWithSignature(input, stringSignature)
}
