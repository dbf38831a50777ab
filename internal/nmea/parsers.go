package nmea

import "fmt"

// Minimum field counts, address field included.
const (
	ggaMinFields = 15
	rmcMinFields = 10
	gsvMinFields = 4
	gsaMinFields = 18
	vtgMinFields = 8
)

func needFields(s Sentence, n int) error {
	if len(s.Fields) < n {
		return fmt.Errorf("%w: %s has %d, want %d", ErrShortSentence, s.Type, len(s.Fields), n)
	}
	return nil
}

// GGA: Global Positioning System Fix Data
//
//	1: time  2/3: latitude N/S  4/5: longitude E/W  6: fix quality
//	7: satellites used  8: HDOP  9: altitude (M)
func (d *Decoder) parseGGA(s Sentence) error {
	if err := needFields(s, ggaMinFields); err != nil {
		return err
	}
	f := s.Fields
	return d.fix.Update(func(fix *Fix) error {
		quality, _, err := intField(f, 6)
		if err != nil {
			// An unreadable quality field cannot vouch for a fix.
			quality = 0
		}
		fix.Quality = quality
		if quality <= 0 {
			fix.Valid = false
			return ErrNoFix
		}
		fix.Valid = true

		if v, ok, err := floatField(f, 2); err != nil {
			return err
		} else if ok {
			fix.Latitude = ToDecimal(v, hemisphere(f, 3))
		}
		if v, ok, err := floatField(f, 4); err != nil {
			return err
		} else if ok {
			fix.Longitude = ToDecimal(v, hemisphere(f, 5))
		}
		if n, ok, err := intField(f, 7); err != nil {
			return err
		} else if ok {
			fix.SatellitesUsed = n
		}

		fix.HorizontalAccuracy = 5.0
		if hdop, ok, err := floatField(f, 8); err != nil {
			return err
		} else if ok && hdop > 0 {
			fix.HorizontalAccuracy = hdop * 4.0
		}
		fix.Flags |= HasHorizontalAccuracy | HasLatLong

		if alt, ok, err := floatField(f, 9); err != nil {
			return err
		} else if ok {
			fix.Altitude = alt
			fix.Flags |= HasAltitude
		}
		return nil
	})
}

// RMC: Recommended Minimum Specific GNSS Data
//
//	2: status (A=active, V=void)  7: speed (knots)  8: course (deg)
//
// An active RMC opens a new fix cycle and clears the used-satellite list.
func (d *Decoder) parseRMC(s Sentence) error {
	if err := needFields(s, rmcMinFields); err != nil {
		return err
	}
	f := s.Fields
	if hemisphere(f, 2) != 'A' {
		return ErrInactive
	}
	d.sats.ClearUsed()
	return d.fix.Update(func(fix *Fix) error {
		if v, ok, err := floatField(f, 7); err != nil {
			return err
		} else if ok {
			fix.Speed = v * KnotsToMps
			fix.Flags |= HasSpeed
		}
		if v, ok, err := floatField(f, 8); err != nil {
			return err
		} else if ok {
			fix.Bearing = v
			fix.Flags |= HasBearing
		}
		return nil
	})
}

// GSV: Satellites in View
//
//	1: message count  2: message number  3: satellites in view
//	4..: blocks of {ID, elevation, azimuth, C/N0}
func (d *Decoder) parseGSV(s Sentence) error {
	if err := needFields(s, gsvMinFields); err != nil {
		return err
	}
	f := s.Fields
	var sats []Satellite
	for i := 4; i+3 < len(f); i += 4 {
		// An unreadable ID skips only its own block.
		id, ok, err := intField(f, i)
		if err != nil || !ok || id == 0 {
			continue
		}
		sv := Satellite{ID: id, Constellation: ConstellationFor(s.Talker, id)}
		if v, ok, _ := floatField(f, i+1); ok {
			sv.Elevation = v
		}
		if v, ok, _ := floatField(f, i+2); ok {
			sv.Azimuth = v
		}
		if v, ok, _ := floatField(f, i+3); ok {
			sv.CN0 = v
			sv.BasebandCN0 = v
		}
		if sv.CN0 > 0 {
			sv.Flags = HasCarrierFrequency
		}
		sats = append(sats, sv)
	}
	d.sats.Upsert(sats...)
	return nil
}

// GSA: DOP and Active Satellites
//
//	1: mode  2: fix type  3..14: IDs of satellites used  15..17: PDOP/HDOP/VDOP
//
// Multi-constellation receivers send one GSA per system, so IDs accumulate
// until the next active RMC.
func (d *Decoder) parseGSA(s Sentence) error {
	if err := needFields(s, gsaMinFields); err != nil {
		return err
	}
	var ids []int
	for i := 3; i <= 14; i++ {
		id, ok, err := intField(s.Fields, i)
		if err != nil || !ok || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	d.sats.AddUsed(ids)
	return nil
}

// VTG: Course Over Ground and Ground Speed
//
//	1: course true (deg)  7: speed (km/h)
func (d *Decoder) parseVTG(s Sentence) error {
	if err := needFields(s, vtgMinFields); err != nil {
		return err
	}
	f := s.Fields
	return d.fix.Update(func(fix *Fix) error {
		if v, ok, err := floatField(f, 1); err != nil {
			return err
		} else if ok {
			fix.Bearing = v
			fix.Flags |= HasBearing
		}
		if v, ok, err := floatField(f, 7); err != nil {
			return err
		} else if ok {
			fix.Speed = v * KmhToMps
			fix.Flags |= HasSpeed
		}
		return nil
	})
}
