package moisture

import "math"

// EquilibriumMoisture computes the drying and wetting equilibrium moisture
// contents (dimensionless, kg/kg) from surface pressure p [Pa], water vapor
// mixing ratio q [kg/kg] and surface temperature t [K].
// The saturated vapor pressure correlation and the Van Wagner equilibria
// follow the standard fuel-moisture formulation.
func EquilibriumMoisture(p, q, t float64) (ed, ew float64) {
	// saturated water vapor pressure [Pa]
	pws := math.Exp(54.842763 - 6763.22/t - 4.210*math.Log(t) + 0.000367*t +
		math.Tanh(0.0415*(t-218.8))*(53.878-1331.22/t-9.44523*math.Log(t)+0.014025*t))

	// water vapor pressure [Pa] and relative humidity [%]
	pw := q * p / (0.622 + 0.378*q)
	h := 100.0 * pw / pws

	ed = 0.924*math.Pow(h, 0.679) + 0.000499*math.Exp(0.1*h) +
		0.18*(21.1+273.15-t)*(1.0-math.Exp(-0.115*h))
	ew = 0.618*math.Pow(h, 0.753) + 0.000454*math.Exp(0.1*h) +
		0.18*(21.1+273.15-t)*(1.0-math.Exp(-0.115*h))

	// percent to fraction
	return ed * 0.01, ew * 0.01
}
