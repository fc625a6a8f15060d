package domain

import "math"

type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

func (v Vec2) Scale(k float64) Vec2 { return Vec2{v.X * k, v.Y * k} }

func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }

func (v Vec2) Dist(o Vec2) float64 { return v.Sub(o).Len() }

// FromAngle returns the unit vector pointing at rad.
func FromAngle(rad float64) Vec2 { return Vec2{math.Cos(rad), math.Sin(rad)} }
