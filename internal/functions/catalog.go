package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/refaxbot/refaxbot/internal/intent"
)

// Fitment is a vehicle range a part fits.
type Fitment struct {
	Make     string `json:"marca"`
	Model    string `json:"modelo,omitempty"`
	YearFrom int    `json:"anio_desde"`
	YearTo   int    `json:"anio_hasta"`
}

func (f Fitment) matches(brand, model string, year int) bool {
	if brand != "" && f.Make != brand {
		return false
	}
	if model != "" && f.Model != "" && f.Model != model {
		return false
	}
	return year == 0 || (year >= f.YearFrom && year <= f.YearTo)
}

// Part is one catalog entry. A part with no fitments is universal.
type Part struct {
	SKU          string    `json:"sku"`
	Name         string    `json:"nombre"`
	Category     string    `json:"categoria"`
	Manufacturer string    `json:"fabricante"`
	Price        float64   `json:"precio"`
	Stock        int       `json:"existencias"`
	Fits         []Fitment `json:"-"`
}

func (p Part) fits(brand, model string, year int) bool {
	if len(p.Fits) == 0 || (brand == "" && year == 0) {
		return true
	}
	for _, f := range p.Fits {
		if f.matches(brand, model, year) {
			return true
		}
	}
	return false
}

// Ticket is a purchase reservation created by generarTicket.
type Ticket struct {
	Folio         string    `json:"folio"`
	SKU           string    `json:"sku"`
	Producto      string    `json:"producto"`
	Cantidad      int       `json:"cantidad"`
	Total         float64   `json:"total"`
	Sucursal      string    `json:"sucursal"`
	NombreCliente string    `json:"nombre_cliente,omitempty"`
	Estado        string    `json:"estado"`
	CreadoEn      time.Time `json:"creado_en"`
}

// CatalogExecutor serves every business function from an in-process parts
// catalog. It stands in for the store's ERP when none is configured.
type CatalogExecutor struct {
	mu      sync.Mutex
	parts   []Part
	tickets map[string]*Ticket
	now     func() time.Time
}

// NewCatalogExecutor creates an executor over parts. A nil slice loads the
// bundled demo catalog.
func NewCatalogExecutor(parts []Part) *CatalogExecutor {
	if parts == nil {
		parts = DefaultCatalog()
	}
	return &CatalogExecutor{
		parts:   slices.Clone(parts),
		tickets: make(map[string]*Ticket),
		now:     time.Now,
	}
}

// flexInt accepts both 2018 and "2018"; models are inconsistent about it.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %s", b)
	}
	*n = flexInt(v)
	return nil
}

type callArgs struct {
	Producto      string  `json:"producto"`
	Marca         string  `json:"marca"`
	Modelo        string  `json:"modelo"`
	Anio          flexInt `json:"anio"`
	VIN           string  `json:"vin"`
	SKU           string  `json:"sku"`
	Cantidad      flexInt `json:"cantidad"`
	NombreCliente string  `json:"nombre_cliente"`
	NumeroPedido  string  `json:"numero_pedido"`
	Motivo        string  `json:"motivo"`
}

func (e *CatalogExecutor) Execute(ctx context.Context, call Call, cc CallContext) (any, error) {
	var args callArgs
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return nil, fmt.Errorf("decoding arguments for %s: %w", call.Name, err)
		}
	}
	args.Producto = strings.ToLower(strings.TrimSpace(args.Producto))
	args.Marca = strings.ToLower(strings.TrimSpace(args.Marca))
	args.Modelo = strings.ToLower(strings.TrimSpace(args.Modelo))

	switch call.Name {
	case ConsultarInventario:
		return e.inventory(args, cc)
	case ConsultarPrecio:
		return e.price(args)
	case VerificarCompatibilidad:
		return e.compatibility(args)
	case GenerarTicket:
		return e.ticket(args, cc)
	case RastrearPedido:
		return e.track(args)
	case EscalarAHumano:
		return e.escalate(args, cc), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, call.Name)
}

type inventoryItem struct {
	SKU         string  `json:"sku"`
	Nombre      string  `json:"nombre"`
	Fabricante  string  `json:"fabricante"`
	Precio      float64 `json:"precio"`
	Existencias int     `json:"existencias"`
	Disponible  bool    `json:"disponible"`
}

type inventoryResult struct {
	Producto string          `json:"producto"`
	Sucursal string          `json:"sucursal"`
	Piezas   []inventoryItem `json:"piezas"`
}

func (e *CatalogExecutor) inventory(args callArgs, cc CallContext) (any, error) {
	if args.Producto == "" {
		return nil, errors.New("producto is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	res := inventoryResult{Producto: args.Producto, Sucursal: cc.PointOfSaleID, Piezas: []inventoryItem{}}
	for _, p := range e.search(args.Producto, args.Marca, args.Modelo, int(args.Anio)) {
		res.Piezas = append(res.Piezas, inventoryItem{
			SKU:         p.SKU,
			Nombre:      p.Name,
			Fabricante:  p.Manufacturer,
			Precio:      p.Price,
			Existencias: p.Stock,
			Disponible:  p.Stock > 0,
		})
	}
	return res, nil
}

type priceItem struct {
	SKU    string  `json:"sku"`
	Nombre string  `json:"nombre"`
	Precio float64 `json:"precio"`
}

type priceResult struct {
	Producto string      `json:"producto"`
	Moneda   string      `json:"moneda"`
	Precios  []priceItem `json:"precios"`
}

func (e *CatalogExecutor) price(args callArgs) (any, error) {
	if args.Producto == "" {
		return nil, errors.New("producto is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	res := priceResult{Producto: args.Producto, Moneda: "MXN", Precios: []priceItem{}}
	for _, p := range e.search(args.Producto, args.Marca, args.Modelo, int(args.Anio)) {
		res.Precios = append(res.Precios, priceItem{SKU: p.SKU, Nombre: p.Name, Precio: p.Price})
	}
	return res, nil
}

type compatibilityResult struct {
	Marca       string      `json:"marca"`
	Modelo      string      `json:"modelo,omitempty"`
	Anio        int         `json:"anio,omitempty"`
	VIN         string      `json:"vin,omitempty"`
	Compatibles []priceItem `json:"compatibles"`
}

func (e *CatalogExecutor) compatibility(args callArgs) (any, error) {
	brand, year := args.Marca, int(args.Anio)
	if args.VIN != "" {
		vinMake, vinYear, ok := intent.DecodeVIN(args.VIN)
		if !ok {
			return nil, fmt.Errorf("invalid VIN %q", args.VIN)
		}
		if brand == "" {
			brand = vinMake
		}
		if year == 0 {
			year = vinYear
		}
	}
	if brand == "" {
		return nil, errors.New("marca or vin is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	res := compatibilityResult{
		Marca:       brand,
		Modelo:      args.Modelo,
		Anio:        year,
		VIN:         strings.ToUpper(args.VIN),
		Compatibles: []priceItem{},
	}
	for _, p := range e.search(args.Producto, brand, args.Modelo, year) {
		if len(p.Fits) == 0 {
			continue
		}
		res.Compatibles = append(res.Compatibles, priceItem{SKU: p.SKU, Nombre: p.Name, Precio: p.Price})
	}
	return res, nil
}

func (e *CatalogExecutor) ticket(args callArgs, cc CallContext) (any, error) {
	qty := int(args.Cantidad)
	if qty <= 0 {
		qty = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	idx := -1
	for i, p := range e.parts {
		if strings.EqualFold(p.SKU, args.SKU) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("sku %q not found", args.SKU)
	}
	part := &e.parts[idx]
	if part.Stock < qty {
		return nil, fmt.Errorf("insufficient stock for %s: %d available", part.SKU, part.Stock)
	}
	part.Stock -= qty

	t := &Ticket{
		Folio:         "TK-" + strings.ToUpper(uuid.New().String()[:8]),
		SKU:           part.SKU,
		Producto:      part.Name,
		Cantidad:      qty,
		Total:         part.Price * float64(qty),
		Sucursal:      cc.PointOfSaleID,
		NombreCliente: args.NombreCliente,
		Estado:        "apartado",
		CreadoEn:      e.now().UTC(),
	}
	e.tickets[t.Folio] = t
	slog.Info("functions: ticket generated", "folio", t.Folio, "sku", t.SKU, "conversation_id", cc.ConversationID)
	return *t, nil
}

func (e *CatalogExecutor) track(args callArgs) (any, error) {
	folio := strings.ToUpper(strings.TrimSpace(args.NumeroPedido))
	if folio == "" {
		return nil, errors.New("numero_pedido is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tickets[folio]
	if !ok {
		return nil, fmt.Errorf("order %s not found", folio)
	}
	return *t, nil
}

type escalation struct {
	Escalado bool   `json:"escalado"`
	Folio    string `json:"folio"`
	Motivo   string `json:"motivo"`
	Sucursal string `json:"sucursal"`
}

func (e *CatalogExecutor) escalate(args callArgs, cc CallContext) escalation {
	esc := escalation{
		Escalado: true,
		Folio:    "ESC-" + strings.ToUpper(uuid.New().String()[:8]),
		Motivo:   args.Motivo,
		Sucursal: cc.PointOfSaleID,
	}
	slog.Info("functions: conversation escalated", "folio", esc.Folio, "conversation_id", cc.ConversationID)
	return esc
}

// search must be called with e.mu held.
func (e *CatalogExecutor) search(product, brand, model string, year int) []Part {
	var out []Part
	for _, p := range e.parts {
		if product != "" && !matchesProduct(p, product) {
			continue
		}
		if !p.fits(brand, model, year) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func matchesProduct(p Part, product string) bool {
	name := strings.ToLower(p.Name)
	return p.Category == product ||
		strings.Contains(name, product) ||
		strings.Contains(product, p.Category)
}

// DefaultCatalog returns the demo parts catalog.
func DefaultCatalog() []Part {
	return []Part{
		{SKU: "BAL-TOY-01", Name: "Balatas delanteras cerámicas", Category: "balatas", Manufacturer: "Brembo", Price: 890, Stock: 12,
			Fits: []Fitment{{Make: "toyota", Model: "corolla", YearFrom: 2014, YearTo: 2019}, {Make: "toyota", Model: "yaris", YearFrom: 2016, YearTo: 2020}}},
		{SKU: "BAL-NIS-01", Name: "Balatas delanteras semimetálicas", Category: "balatas", Manufacturer: "Wagner", Price: 650, Stock: 8,
			Fits: []Fitment{{Make: "nissan", Model: "versa", YearFrom: 2012, YearTo: 2022}, {Make: "nissan", Model: "sentra", YearFrom: 2013, YearTo: 2019}}},
		{SKU: "BAL-VW-01", Name: "Balatas traseras", Category: "balatas", Manufacturer: "Bosch", Price: 720, Stock: 0,
			Fits: []Fitment{{Make: "volkswagen", Model: "jetta", YearFrom: 2011, YearTo: 2018}}},
		{SKU: "AMO-TOY-01", Name: "Amortiguadores delanteros (par)", Category: "amortiguadores", Manufacturer: "Monroe", Price: 2450, Stock: 4,
			Fits: []Fitment{{Make: "toyota", Model: "corolla", YearFrom: 2014, YearTo: 2019}}},
		{SKU: "AMO-HON-01", Name: "Amortiguadores traseros (par)", Category: "amortiguadores", Manufacturer: "KYB", Price: 2180, Stock: 6,
			Fits: []Fitment{{Make: "honda", Model: "civic", YearFrom: 2016, YearTo: 2021}}},
		{SKU: "EMB-NIS-01", Name: "Kit de embrague", Category: "embrague", Manufacturer: "Valeo", Price: 3890, Stock: 2,
			Fits: []Fitment{{Make: "nissan", Model: "tsuru", YearFrom: 1992, YearTo: 2017}}},
		{SKU: "BUJ-NGK-01", Name: "Bujías de iridio (juego de 4)", Category: "bujías", Manufacturer: "NGK", Price: 980, Stock: 30,
			Fits: []Fitment{{Make: "toyota", YearFrom: 2009, YearTo: 2024}, {Make: "honda", YearFrom: 2010, YearTo: 2024}, {Make: "mazda", YearFrom: 2012, YearTo: 2024}}},
		{SKU: "FIL-ACE-01", Name: "Filtro de aceite", Category: "filtro", Manufacturer: "Fram", Price: 145, Stock: 40},
		{SKU: "ACE-SIN-01", Name: "Aceite sintético 5W-30 (4 L)", Category: "aceite", Manufacturer: "Mobil", Price: 760, Stock: 25},
		{SKU: "BAT-LTH-01", Name: "Batería 12V 600 CCA", Category: "batería", Manufacturer: "LTH", Price: 2350, Stock: 5},
		{SKU: "REF-GEN-01", Name: "Refrigerante concentrado (1 gal)", Category: "refrigerante", Manufacturer: "Prestone", Price: 310, Stock: 18},
		{SKU: "BDD-CHE-01", Name: "Banda de distribución", Category: "banda de distribución", Manufacturer: "Gates", Price: 1290, Stock: 3,
			Fits: []Fitment{{Make: "chevrolet", Model: "aveo", YearFrom: 2008, YearTo: 2017}}},
	}
}
