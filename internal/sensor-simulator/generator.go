package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/LeonardoBeccarini/synlab/internal/model/entities"
)

// ====== Tunables ======
const (
	// peltierRatePerMin is how fast the sample approaches the target, as a share of the gap per minute.
	peltierRatePerMin = 0.35

	// ambientRatePerMin pulls the sample back to ambient when the peltier is idle.
	ambientRatePerMin = 0.05

	// pumpFillPerMin raises the water level indicator while the pump runs.
	pumpFillPerMin = 2.0

	// evaporationPerMin lowers it otherwise.
	evaporationPerMin = 0.05

	// Emergency thresholds, mirroring the board firmware safety checks.
	gasEmergency  = 600
	tempEmergency = 55

	// tank geometry: the ultrasonic sensor looks down on the water surface
	tankDepthCm = 30.0
	maxWater    = 10.0
)

// DataGenerator keeps the simulated physical state of the board and evolves it over time.
type DataGenerator struct {
	mu      sync.Mutex
	clock   clock.Clock
	rnd     *rand.Rand
	last    time.Time
	ambient float64

	temperature float64
	humidity    float64
	gas         float64
	soil        float64
	water       float64

	heating *bool // nil = peltier idle
	target  float64
	pump    bool
}

// NewDataGenerator creates a generator at ambient °C. seed makes the noise reproducible.
func NewDataGenerator(ambient float64, seed int64, clk clock.Clock) *DataGenerator {
	if clk == nil {
		clk = clock.New()
	}
	return &DataGenerator{
		clock:       clk,
		rnd:         rand.New(rand.NewSource(seed)),
		last:        clk.Now(),
		ambient:     ambient,
		temperature: ambient,
		humidity:    45,
		gas:         300,
		soil:        40,
		water:       5,
	}
}

// Drive sets the peltier towards target; heating selects the direction.
func (g *DataGenerator) Drive(target float64, heating bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advance()
	g.target = target
	g.heating = &heating
}

// Idle switches the peltier off
func (g *DataGenerator) Idle() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advance()
	g.heating = nil
}

// SetPump switches the water pump
func (g *DataGenerator) SetPump(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advance()
	g.pump = on
}

// Next advances the state to now and returns a reading.
func (g *DataGenerator) Next() entities.SensorReading {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advance()

	noise := func(amp float64) float64 { return (g.rnd.Float64()*2 - 1) * amp }
	r := entities.SensorReading{
		Temperature: round1(g.temperature + noise(0.2)),
		Humidity:    math.Round(clamp(g.humidity+noise(1), 0, 100)),
		Gas:         math.Round(math.Max(0, g.gas+noise(10))),
		Soil:        math.Round(clamp(g.soil+noise(0.5), 0, 100)),
		Water:       math.Round(g.water),
		Distance:    round1(clamp(tankDepthCm-g.water*2+noise(0.3), 2, 400)),
	}
	r.Emergency = r.Gas >= gasEmergency || r.Temperature >= tempEmergency
	return r
}

// advance integrates the state over the time since the last call. Callers hold mu.
func (g *DataGenerator) advance() {
	now := g.clock.Now()
	dtMin := now.Sub(g.last).Minutes()
	g.last = now
	if dtMin <= 0 {
		return
	}

	goal, rate := g.ambient, ambientRatePerMin
	if g.heating != nil {
		// heating never cools below the current value and vice versa
		if (*g.heating && g.target > g.temperature) || (!*g.heating && g.target < g.temperature) {
			goal, rate = g.target, peltierRatePerMin
		}
	}
	g.temperature = approach(g.temperature, goal, rate, dtMin)

	// warm air holds more water: relative humidity drops as the sample heats up
	g.humidity = clamp(45-(g.temperature-g.ambient)*1.5, 5, 95)

	if g.pump {
		g.water = clamp(g.water+pumpFillPerMin*dtMin, 0, maxWater)
		g.soil = clamp(g.soil+dtMin, 0, 100)
	} else {
		g.water = clamp(g.water-evaporationPerMin*dtMin, 0, maxWater)
		g.soil = clamp(g.soil-0.02*dtMin, 0, 100)
	}

	// random walk around the baseline
	g.gas = clamp(g.gas+(300-g.gas)*0.1*math.Min(dtMin, 1)+(g.rnd.Float64()*2-1)*5*math.Min(dtMin, 1), 0, 1000)
}

// approach moves v towards goal exponentially with the given share per minute.
func approach(v, goal, ratePerMin, dtMin float64) float64 {
	return goal + (v-goal)*math.Pow(1-ratePerMin, dtMin)
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
