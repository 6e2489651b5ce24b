package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/gosnmp/gosnmp"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// OIDs usados na coleta (MIB-II e HOST-RESOURCES)
const (
	OIDSysDescr        = "1.3.6.1.2.1.1.1.0"
	OIDSysUpTime       = "1.3.6.1.2.1.1.3.0"
	OIDIfDescr         = "1.3.6.1.2.1.2.2.1.2"
	OIDIfSpeed         = "1.3.6.1.2.1.2.2.1.5"
	OIDIfPhysAddress   = "1.3.6.1.2.1.2.2.1.6"
	OIDIfInOctets      = "1.3.6.1.2.1.2.2.1.10"
	OIDIfOutOctets     = "1.3.6.1.2.1.2.2.1.16"
	OIDHrStorageDescr  = "1.3.6.1.2.1.25.2.3.1.3"
	OIDHrStorageUnits  = "1.3.6.1.2.1.25.2.3.1.4"
	OIDHrStorageSize   = "1.3.6.1.2.1.25.2.3.1.5"
	OIDHrStorageUsed   = "1.3.6.1.2.1.25.2.3.1.6"
	OIDHrProcessorLoad = "1.3.6.1.2.1.25.3.3.1.2"
)

const (
	// Índice hrStorage do sistema de arquivos raiz
	diskStorageIndex = 1
	// Unidade de alocação assumida para o disco
	diskAllocUnit = 4096
	bytesPerMB    = 1024 * 1024
	unknownMAC    = "Unknown"
)

// ErrHostOffline host não respondeu ao sysDescr
var ErrHostOffline = errors.New("host offline")

// errNoValue OID sem valor (noSuchObject/noSuchInstance/timeout)
var errNoValue = errors.New("no value")

// DefaultInterfaceKeywords palavras usadas para escolher a interface monitorada
var DefaultInterfaceKeywords = []string{"Intel", "MediaTek", "Ethernet", "Wi-Fi"}

// SNMPConfig configuração de acesso SNMP
type SNMPConfig struct {
	Community string
	Port      uint16
	Version   string // "1" ou "2c"

	Timeout         time.Duration // leitura comum
	Retries         int
	LivenessTimeout time.Duration // sysDescr do teste de vida
	WalkTimeout     time.Duration

	// Intervalo entre as duas leituras dos contadores de tráfego
	NetworkSampleGap time.Duration
	// Validade do cache de valores estáticos (velocidade, unidade, MAC)
	CacheTTL time.Duration

	InterfaceKeywords []string
}

// DefaultSNMPConfig retorna configuração padrão
func DefaultSNMPConfig() SNMPConfig {
	return SNMPConfig{
		Community:         "monitor",
		Port:              161,
		Version:           "1",
		Timeout:           2 * time.Second,
		Retries:           1,
		LivenessTimeout:   3 * time.Second,
		WalkTimeout:       5 * time.Second,
		NetworkSampleGap:  3 * time.Second,
		CacheTTL:          30 * time.Second,
		InterfaceKeywords: DefaultInterfaceKeywords,
	}
}

func (c SNMPConfig) withDefaults() SNMPConfig {
	d := DefaultSNMPConfig()
	if c.Community == "" {
		c.Community = d.Community
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = d.LivenessTimeout
	}
	if c.WalkTimeout <= 0 {
		c.WalkTimeout = d.WalkTimeout
	}
	if c.NetworkSampleGap <= 0 {
		c.NetworkSampleGap = d.NetworkSampleGap
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if len(c.InterfaceKeywords) == 0 {
		c.InterfaceKeywords = d.InterfaceKeywords
	}
	return c
}

// snmpSession operações SNMP de baixo nível (gosnmp em produção, fake nos testes)
type snmpSession interface {
	Get(ctx context.Context, oid string, timeout time.Duration, retries int) (gosnmp.SnmpPDU, error)
	Walk(ctx context.Context, root string, timeout time.Duration) ([]gosnmp.SnmpPDU, error)
}

// gosnmpSession abre uma conexão UDP por operação
type gosnmpSession struct {
	target    string
	port      uint16
	community string
	version   gosnmp.SnmpVersion
}

func (s *gosnmpSession) client(ctx context.Context, timeout time.Duration, retries int) *gosnmp.GoSNMP {
	return &gosnmp.GoSNMP{
		Target:    s.target,
		Port:      s.port,
		Community: s.community,
		Version:   s.version,
		Timeout:   timeout,
		Retries:   retries,
		Context:   ctx,
		MaxOids:   gosnmp.MaxOids,
	}
}

func (s *gosnmpSession) Get(ctx context.Context, oid string, timeout time.Duration, retries int) (gosnmp.SnmpPDU, error) {
	g := s.client(ctx, timeout, retries)
	if err := g.Connect(); err != nil {
		return gosnmp.SnmpPDU{}, fmt.Errorf("failed to connect: %w", err)
	}
	defer g.Conn.Close()

	packet, err := g.Get([]string{oid})
	if err != nil {
		return gosnmp.SnmpPDU{}, err
	}
	if packet.Error != gosnmp.NoError {
		return gosnmp.SnmpPDU{}, fmt.Errorf("snmp error status %s", packet.Error)
	}
	if len(packet.Variables) == 0 {
		return gosnmp.SnmpPDU{}, errNoValue
	}
	return packet.Variables[0], nil
}

func (s *gosnmpSession) Walk(ctx context.Context, root string, timeout time.Duration) ([]gosnmp.SnmpPDU, error) {
	g := s.client(ctx, timeout, 0)
	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	defer g.Conn.Close()

	return g.WalkAll(root)
}

func parseVersion(v string) gosnmp.SnmpVersion {
	if v == "2c" || v == "2" {
		return gosnmp.Version2c
	}
	return gosnmp.Version1
}

// SNMPClient leituras de alto nível de um host
type SNMPClient struct {
	ip      string
	config  SNMPConfig
	session snmpSession
	cache   *gocache.Cache
	clock   clock.Clock

	mu       sync.Mutex
	ifIndex  int
	memIndex int
	resolved bool
}

// NewSNMPClient cria cliente SNMP para o IP
func NewSNMPClient(ip string, config SNMPConfig, clk clock.Clock) *SNMPClient {
	config = config.withDefaults()
	session := &gosnmpSession{
		target:    ip,
		port:      config.Port,
		community: config.Community,
		version:   parseVersion(config.Version),
	}
	return newSNMPClient(ip, config, session, clk)
}

func newSNMPClient(ip string, config SNMPConfig, session snmpSession, clk clock.Clock) *SNMPClient {
	config = config.withDefaults()
	if clk == nil {
		clk = clock.NewClock()
	}
	return &SNMPClient{
		ip:      ip,
		config:  config,
		session: session,
		cache:   gocache.New(config.CacheTTL, 2*config.CacheTTL),
		clock:   clk,
	}
}

// IP endereço do host
func (c *SNMPClient) IP() string {
	return c.ip
}

// get leitura simples; valores ausentes viram errNoValue
func (c *SNMPClient) get(ctx context.Context, oid string, timeout time.Duration, retries int) (gosnmp.SnmpPDU, error) {
	pdu, err := c.session.Get(ctx, oid, timeout, retries)
	if err != nil {
		return pdu, err
	}
	switch pdu.Type {
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return pdu, errNoValue
	}
	return pdu, nil
}

func (c *SNMPClient) getInt(ctx context.Context, oid string) (int64, error) {
	pdu, err := c.get(ctx, oid, c.config.Timeout, c.config.Retries)
	if err != nil {
		return 0, err
	}
	return pduInt(pdu)
}

// getCachedInt leitura numérica com cache (valores que quase nunca mudam)
func (c *SNMPClient) getCachedInt(ctx context.Context, oid string) (int64, error) {
	if v, ok := c.cache.Get(oid); ok {
		return v.(int64), nil
	}
	v, err := c.getInt(ctx, oid)
	if err != nil {
		return 0, err
	}
	c.cache.Set(oid, v, gocache.DefaultExpiration)
	return v, nil
}

// Probe sysDescr com timeout e retries explícitos (descoberta usa 1s / 0)
func (c *SNMPClient) Probe(ctx context.Context, timeout time.Duration, retries int) bool {
	_, err := c.get(ctx, OIDSysDescr, timeout, retries)
	return err == nil
}

// IsUp teste de vida do host (sysDescr, timeout de liveness)
func (c *SNMPClient) IsUp(ctx context.Context) bool {
	return c.Probe(ctx, c.config.LivenessTimeout, c.config.Retries)
}

// Resolve procura os índices da interface e da memória física (uma vez por host)
func (c *SNMPClient) Resolve(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolved {
		return
	}

	c.ifIndex = c.findIndex(ctx, OIDIfDescr, func(desc string) bool {
		for _, kw := range c.config.InterfaceKeywords {
			if strings.Contains(desc, strings.ToLower(kw)) {
				return true
			}
		}
		return false
	})
	c.memIndex = c.findIndex(ctx, OIDHrStorageDescr, func(desc string) bool {
		return strings.Contains(desc, "physical memory") || strings.Contains(desc, "ram")
	})

	if c.ifIndex == 0 {
		log.Warn().Str("ip", c.ip).Msg("No matching network interface found")
	}
	if c.memIndex == 0 {
		log.Warn().Str("ip", c.ip).Msg("No physical memory storage entry found")
	}

	// Só marca como resolvido quando encontrou algo; host sem resposta tenta de novo
	c.resolved = c.ifIndex != 0 || c.memIndex != 0
}

func (c *SNMPClient) findIndex(ctx context.Context, root string, match func(desc string) bool) int {
	pdus, err := c.session.Walk(ctx, root, c.config.WalkTimeout)
	if err != nil {
		log.Debug().Err(err).Str("ip", c.ip).Str("oid", root).Msg("SNMP walk failed")
		return 0
	}
	for _, pdu := range pdus {
		desc := strings.ToLower(pduString(pdu))
		if !match(desc) {
			continue
		}
		index := oidIndex(pdu.Name)
		if index > 0 {
			log.Debug().Str("ip", c.ip).Str("description", pduString(pdu)).Int("index", index).Msg("SNMP index found")
			return index
		}
	}
	return 0
}

func (c *SNMPClient) indexes() (ifIndex, memIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ifIndex, c.memIndex
}

// NetworkStats tráfego da interface selecionada
type NetworkStats struct {
	InMbps        float64
	OutMbps       float64
	LinkSpeedMbps float64
}

// Network lê os contadores duas vezes separados por NetworkSampleGap.
// Contador que voltou é reportado como 0.
func (c *SNMPClient) Network(ctx context.Context) (NetworkStats, error) {
	ifIndex, _ := c.indexes()
	if ifIndex == 0 {
		return NetworkStats{}, nil
	}

	oidIn := fmt.Sprintf("%s.%d", OIDIfInOctets, ifIndex)
	oidOut := fmt.Sprintf("%s.%d", OIDIfOutOctets, ifIndex)

	in1, err1 := c.getInt(ctx, oidIn)
	out1, err2 := c.getInt(ctx, oidOut)
	if err1 != nil || err2 != nil {
		return NetworkStats{}, nil
	}

	select {
	case <-ctx.Done():
		return NetworkStats{}, ctx.Err()
	case <-c.clock.After(c.config.NetworkSampleGap):
	}

	in2, err1 := c.getInt(ctx, oidIn)
	out2, err2 := c.getInt(ctx, oidOut)
	if err1 != nil || err2 != nil {
		return NetworkStats{}, nil
	}

	gap := c.config.NetworkSampleGap.Seconds()
	stats := NetworkStats{
		InMbps:  octetsToMbps(in1, in2, gap),
		OutMbps: octetsToMbps(out1, out2, gap),
	}

	if speed, err := c.getCachedInt(ctx, fmt.Sprintf("%s.%d", OIDIfSpeed, ifIndex)); err == nil {
		stats.LinkSpeedMbps = float64(speed) / 1e6
	}

	return stats, nil
}

func octetsToMbps(first, second int64, seconds float64) float64 {
	if second < first || seconds <= 0 {
		return 0
	}
	return float64(second-first) * 8 / seconds / 1e6
}

// MemoryStats RAM física em MB
type MemoryStats struct {
	TotalMB float64
	UsedMB  float64
}

// Memory lê hrStorage da memória física
func (c *SNMPClient) Memory(ctx context.Context) (MemoryStats, error) {
	_, memIndex := c.indexes()
	if memIndex == 0 {
		return MemoryStats{}, nil
	}

	unit, err := c.getCachedInt(ctx, fmt.Sprintf("%s.%d", OIDHrStorageUnits, memIndex))
	if err != nil || unit == 0 {
		return MemoryStats{}, nil
	}

	var stats MemoryStats
	if total, err := c.getInt(ctx, fmt.Sprintf("%s.%d", OIDHrStorageSize, memIndex)); err == nil {
		stats.TotalMB = float64(total*unit) / bytesPerMB
	}
	if used, err := c.getInt(ctx, fmt.Sprintf("%s.%d", OIDHrStorageUsed, memIndex)); err == nil {
		stats.UsedMB = float64(used*unit) / bytesPerMB
	}
	return stats, nil
}

// SystemStats CPU média, uptime e disco
type SystemStats struct {
	CPUPercent    float64
	UptimeSeconds float64
	DiskUsedMB    float64
	DiskTotalMB   float64
}

// System lê carga dos processadores, sysUpTime e o disco raiz
func (c *SNMPClient) System(ctx context.Context) (SystemStats, error) {
	var stats SystemStats

	if loads := c.CPULoads(ctx); len(loads) > 0 {
		sum := 0
		for _, l := range loads {
			sum += l
		}
		avg := float64(sum) / float64(len(loads))
		stats.CPUPercent = float64(int64(avg*100+0.5)) / 100
	}

	if ticks, err := c.getInt(ctx, OIDSysUpTime); err == nil {
		stats.UptimeSeconds = float64(ticks) / 100
	}

	if used, err := c.getInt(ctx, fmt.Sprintf("%s.%d", OIDHrStorageUsed, diskStorageIndex)); err == nil {
		stats.DiskUsedMB = float64(used*diskAllocUnit) / bytesPerMB
	}
	if total, err := c.getInt(ctx, fmt.Sprintf("%s.%d", OIDHrStorageSize, diskStorageIndex)); err == nil {
		stats.DiskTotalMB = float64(total*diskAllocUnit) / bytesPerMB
	}

	return stats, nil
}

// CPULoads hrProcessorLoad de cada processador (valores fora de 0..100 descartados)
func (c *SNMPClient) CPULoads(ctx context.Context) []int {
	pdus, err := c.session.Walk(ctx, OIDHrProcessorLoad, c.config.WalkTimeout)
	if err != nil {
		return nil
	}
	loads := make([]int, 0, len(pdus))
	for _, pdu := range pdus {
		v, err := pduInt(pdu)
		if err != nil || v < 0 || v > 100 {
			continue
		}
		loads = append(loads, int(v))
	}
	return loads
}

// MAC endereço físico da interface selecionada (cacheado)
func (c *SNMPClient) MAC(ctx context.Context) string {
	ifIndex, _ := c.indexes()
	if ifIndex == 0 {
		return unknownMAC
	}

	oid := fmt.Sprintf("%s.%d", OIDIfPhysAddress, ifIndex)
	if v, ok := c.cache.Get(oid); ok {
		return v.(string)
	}

	pdu, err := c.get(ctx, oid, c.config.Timeout, c.config.Retries)
	if err != nil {
		return unknownMAC
	}

	mac := FormatMAC(pdu.Value)
	if mac != unknownMAC {
		c.cache.Set(oid, mac, gocache.DefaultExpiration)
	}
	return mac
}

// FormatMAC formata 6 bytes como aa:bb:cc:dd:ee:ff
func FormatMAC(value interface{}) string {
	switch v := value.(type) {
	case []byte:
		if len(v) == 6 {
			parts := make([]string, len(v))
			for i, b := range v {
				parts[i] = fmt.Sprintf("%02x", b)
			}
			return strings.Join(parts, ":")
		}
		if len(v) == 0 {
			return unknownMAC
		}
		return strings.ToLower(string(v))
	case string:
		if v == "" {
			return unknownMAC
		}
		return strings.ToLower(v)
	default:
		return unknownMAC
	}
}

func pduInt(pdu gosnmp.SnmpPDU) (int64, error) {
	switch pdu.Type {
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Counter64, gosnmp.Uinteger32:
		n := gosnmp.ToBigInt(pdu.Value)
		if n == nil || !n.IsInt64() {
			return 0, fmt.Errorf("value out of range for %s", pdu.Name)
		}
		return n.Int64(), nil
	case gosnmp.OctetString:
		s := strings.TrimSpace(pduString(pdu))
		n, ok := new(big.Int).SetString(s, 10)
		if !ok || !n.IsInt64() {
			return 0, fmt.Errorf("non numeric value %q for %s", s, pdu.Name)
		}
		return n.Int64(), nil
	default:
		return 0, fmt.Errorf("unexpected type %s for %s", pdu.Type, pdu.Name)
	}
}

func pduString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// oidIndex último componente do OID
func oidIndex(oid string) int {
	i := strings.LastIndex(oid, ".")
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(oid[i+1:])
	if err != nil {
		return 0
	}
	return n
}
