// Package functions decides which business functions the model may call for
// a given intent and relays the model's call requests to an Executor.
package functions

import (
	"slices"

	"github.com/refaxbot/refaxbot/internal/intent"
)

// Function names exposed to the model.
const (
	ConsultarInventario     = "consultarInventario"
	ConsultarPrecio         = "consultarPrecio"
	VerificarCompatibilidad = "verificarCompatibilidad"
	GenerarTicket           = "generarTicket"
	RastrearPedido          = "rastrearPedido"
	EscalarAHumano          = "escalarAHumano"
)

// ParamType is the JSON schema type of a function parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
)

// Param describes one argument of a function.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// Definition describes a callable function to the model.
type Definition struct {
	Name        string
	Description string
	Params      []Param
}

var definitions = map[string]Definition{
	ConsultarInventario: {
		Name:        ConsultarInventario,
		Description: "Consulta existencias de una refacción en la sucursal del cliente.",
		Params: []Param{
			{Name: "producto", Type: TypeString, Description: "Nombre de la refacción, por ejemplo balatas", Required: true},
			{Name: "marca", Type: TypeString, Description: "Marca del vehículo"},
			{Name: "anio", Type: TypeInteger, Description: "Año del vehículo"},
		},
	},
	ConsultarPrecio: {
		Name:        ConsultarPrecio,
		Description: "Obtiene el precio vigente de una refacción.",
		Params: []Param{
			{Name: "producto", Type: TypeString, Description: "Nombre de la refacción", Required: true},
			{Name: "marca", Type: TypeString, Description: "Marca del vehículo"},
			{Name: "anio", Type: TypeInteger, Description: "Año del vehículo"},
		},
	},
	VerificarCompatibilidad: {
		Name:        VerificarCompatibilidad,
		Description: "Verifica qué refacciones son compatibles con un vehículo por marca, modelo, año o VIN.",
		Params: []Param{
			{Name: "producto", Type: TypeString, Description: "Nombre de la refacción"},
			{Name: "marca", Type: TypeString, Description: "Marca del vehículo"},
			{Name: "modelo", Type: TypeString, Description: "Modelo del vehículo"},
			{Name: "anio", Type: TypeInteger, Description: "Año del vehículo"},
			{Name: "vin", Type: TypeString, Description: "Número de serie (VIN) de 17 caracteres"},
		},
	},
	GenerarTicket: {
		Name:        GenerarTicket,
		Description: "Genera un ticket de compra para apartar una refacción.",
		Params: []Param{
			{Name: "sku", Type: TypeString, Description: "Clave de la refacción", Required: true},
			{Name: "cantidad", Type: TypeInteger, Description: "Piezas a apartar"},
			{Name: "nombre_cliente", Type: TypeString, Description: "Nombre para el ticket"},
		},
	},
	RastrearPedido: {
		Name:        RastrearPedido,
		Description: "Consulta el estado de envío de un pedido.",
		Params: []Param{
			{Name: "numero_pedido", Type: TypeString, Description: "Número de pedido o ticket", Required: true},
		},
	},
	EscalarAHumano: {
		Name:        EscalarAHumano,
		Description: "Transfiere la conversación a un asesor humano.",
		Params: []Param{
			{Name: "motivo", Type: TypeString, Description: "Motivo de la transferencia", Required: true},
		},
	},
}

var allowList = map[intent.Intent][]string{
	intent.SearchProduct:     {ConsultarInventario, VerificarCompatibilidad},
	intent.PriceInquiry:      {ConsultarPrecio, ConsultarInventario},
	intent.PurchaseIntent:    {GenerarTicket, ConsultarPrecio},
	intent.InventoryCheck:    {ConsultarInventario},
	intent.InventoryFollowup: {ConsultarInventario},
	intent.VINLookup:         {VerificarCompatibilidad},
	intent.ShippingInquiry:   {RastrearPedido},
}

// AllowedFor returns the functions the model may call for i. Escalation to a
// human is always allowed. The returned slice is owned by the caller.
func AllowedFor(i intent.Intent) []string {
	return append(slices.Clone(allowList[i]), EscalarAHumano)
}

// Describe returns the one-line description of a known function.
func Describe(name string) (string, bool) {
	d, ok := definitions[name]
	return d.Description, ok
}

// Definitions returns the definitions for names in order, skipping unknown names.
func Definitions(names []string) []Definition {
	out := make([]Definition, 0, len(names))
	for _, n := range names {
		if d, ok := definitions[n]; ok {
			d.Params = slices.Clone(d.Params)
			out = append(out, d)
		}
	}
	return out
}
