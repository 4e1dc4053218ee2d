// Package model holds the items the student job reads and writes.
package model

import "fmt"

// Student is one record of the university roster. The same type is read from flat
// files, JSON, XML and the student table, and written to the console, the student_out
// table or parquet files.
type Student struct {
	ID        int64  `json:"id" xml:"id" gorm:"column:id;primaryKey;autoIncrement:false" parquet:"name=id, type=INT64"`
	FirstName string `json:"firstName" xml:"firstName" gorm:"column:first_name" parquet:"name=first_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastName  string `json:"lastName" xml:"lastName" gorm:"column:last_name" parquet:"name=last_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Email     string `json:"email" xml:"email" gorm:"column:email" parquet:"name=email, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func (s Student) String() string {
	return fmt.Sprintf("Student [id=%d, firstName=%s, lastName=%s, email=%s]", s.ID, s.FirstName, s.LastName, s.Email)
}
