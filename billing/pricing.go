package billing

import "github.com/shopspring/decimal"

// MonthlyFee prices one month of a contract.
//
// Each category is priced on its own. With a positive secondary price every
// full pair costs primary+secondary and an odd leftover costs primary.
// Otherwise every spot costs primary.
//
//	3 cars at 50000/30000 -> (50000+30000) + 50000 = 130000
func MonthlyFee(t PricingTemplate, counts ResourceCounts) decimal.Decimal {
	cars := categoryFee(counts.Cars, t.FirstCar, t.SecondCar)
	motorcycles := categoryFee(counts.Motorcycles, t.FirstMotorcycle, t.SecondMotorcycle)
	return cars.Add(motorcycles)
}

func categoryFee(n int, primary, secondary decimal.Decimal) decimal.Decimal {
	if n <= 0 {
		return decimal.Zero
	}
	if !secondary.IsPositive() {
		return primary.Mul(decimal.NewFromInt(int64(n)))
	}
	fee := primary.Add(secondary).Mul(decimal.NewFromInt(int64(n / 2)))
	if n%2 == 1 {
		fee = fee.Add(primary)
	}
	return fee
}
