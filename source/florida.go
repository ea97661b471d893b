// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package source

// FloridaCounties lists the 67 Florida counties by county number (11
// through 77), the partition key of the statewide parcel layer.
var FloridaCounties = Static{
	{ID: "11", Name: "ALACHUA"},
	{ID: "12", Name: "BAKER"},
	{ID: "13", Name: "BAY"},
	{ID: "14", Name: "BRADFORD"},
	{ID: "15", Name: "BREVARD"},
	{ID: "16", Name: "BROWARD"},
	{ID: "17", Name: "CALHOUN"},
	{ID: "18", Name: "CHARLOTTE"},
	{ID: "19", Name: "CITRUS"},
	{ID: "20", Name: "CLAY"},
	{ID: "21", Name: "COLLIER"},
	{ID: "22", Name: "COLUMBIA"},
	{ID: "23", Name: "DESOTO"},
	{ID: "24", Name: "DIXIE"},
	{ID: "25", Name: "DUVAL"},
	{ID: "26", Name: "ESCAMBIA"},
	{ID: "27", Name: "FLAGLER"},
	{ID: "28", Name: "FRANKLIN"},
	{ID: "29", Name: "GADSDEN"},
	{ID: "30", Name: "GILCHRIST"},
	{ID: "31", Name: "GLADES"},
	{ID: "32", Name: "GULF"},
	{ID: "33", Name: "HAMILTON"},
	{ID: "34", Name: "HARDEE"},
	{ID: "35", Name: "HENDRY"},
	{ID: "36", Name: "HERNANDO"},
	{ID: "37", Name: "HIGHLANDS"},
	{ID: "38", Name: "HILLSBOROUGH"},
	{ID: "39", Name: "HOLMES"},
	{ID: "40", Name: "INDIAN RIVER"},
	{ID: "41", Name: "JACKSON"},
	{ID: "42", Name: "JEFFERSON"},
	{ID: "43", Name: "LAFAYETTE"},
	{ID: "44", Name: "LAKE"},
	{ID: "45", Name: "LEE"},
	{ID: "46", Name: "LEON"},
	{ID: "47", Name: "LEVY"},
	{ID: "48", Name: "LIBERTY"},
	{ID: "49", Name: "MADISON"},
	{ID: "50", Name: "MANATEE"},
	{ID: "51", Name: "MARION"},
	{ID: "52", Name: "MARTIN"},
	{ID: "53", Name: "MIAMI-DADE"},
	{ID: "54", Name: "MONROE"},
	{ID: "55", Name: "NASSAU"},
	{ID: "56", Name: "OKALOOSA"},
	{ID: "57", Name: "OKEECHOBEE"},
	{ID: "58", Name: "ORANGE"},
	{ID: "59", Name: "OSCEOLA"},
	{ID: "60", Name: "PALM BEACH"},
	{ID: "61", Name: "PASCO"},
	{ID: "62", Name: "PINELLAS"},
	{ID: "63", Name: "POLK"},
	{ID: "64", Name: "PUTNAM"},
	{ID: "65", Name: "ST. JOHNS"},
	{ID: "66", Name: "ST. LUCIE"},
	{ID: "67", Name: "SANTA ROSA"},
	{ID: "68", Name: "SARASOTA"},
	{ID: "69", Name: "SEMINOLE"},
	{ID: "70", Name: "SUMTER"},
	{ID: "71", Name: "SUWANNEE"},
	{ID: "72", Name: "TAYLOR"},
	{ID: "73", Name: "UNION"},
	{ID: "74", Name: "VOLUSIA"},
	{ID: "75", Name: "WAKULLA"},
	{ID: "76", Name: "WALTON"},
	{ID: "77", Name: "WASHINGTON"},
}
